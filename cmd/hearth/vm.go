package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/internal/loader"
	"github.com/jbweber/hearth/internal/vm"
)

// signalContext is cancelled on SIGINT or SIGTERM. A create interrupted
// before its domain is defined rolls back.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var (
	createFile  string
	createCount int
)

var createCmd = &cobra.Command{
	Use:   "create -f <request.yaml>",
	Short: "Launch VMs from a request file",
	Long: `Launch one or more VMs from a YAML launch request.

The VM is built in order: record, network, root volume, boot disk, domain.
Any failure undoes every completed step unless vm.cleanup_on_failure is
false, in which case the record is kept in FAILED for inspection.

With --count greater than one the VMs are built concurrently. A static
address cannot be combined with --count.

Example:
  hearth create -f web.yaml
  hearth create -f worker.yaml --count 3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if createCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		req, err := loader.LoadFromFile(createFile)
		if err != nil {
			return err
		}
		if createCount > 1 && req.Address != "" {
			return fmt.Errorf("a static address cannot be combined with --count")
		}
		req.AccountID = accountID

		ctx, cancel := signalContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		targets := make([]string, createCount)
		for i := range targets {
			targets[i] = "#" + strconv.Itoa(i+1)
		}
		return a.runBatch(ctx, "create", targets, func(ctx context.Context, _ string) error {
			id, err := a.manager.Create(ctx, *req)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringVarP(&createFile, "file", "f", "", "launch request file")
	createCmd.Flags().IntVar(&createCount, "count", 1, "number of VMs to launch")
	_ = createCmd.MarkFlagRequired("file")
}

var startCmd = &cobra.Command{
	Use:   "start <vm-id>...",
	Short: "Start stopped VMs",
	Long:  `Start VMs. Starting a running VM succeeds without doing anything.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle("start", args, func(a *app, ctx context.Context, id string) error {
			return a.manager.Start(ctx, accountID, id)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <vm-id>...",
	Short: "Stop running VMs",
	Long: `Stop VMs with an ACPI shutdown. A guest that has not powered off after
vm.stop_timeout is destroyed. Stopping a stopped VM succeeds without doing
anything.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle("stop", args, func(a *app, ctx context.Context, id string) error {
			return a.manager.Stop(ctx, accountID, id)
		})
	},
}

var terminateForce bool

var terminateCmd = &cobra.Command{
	Use:   "terminate <vm-id>...",
	Short: "Terminate VMs",
	Long: `Terminate VMs: stop and undefine the domain, delete the workspace with
its volumes and boot disk, and remove the record.

--force powers the guest off immediately and also accepts VMs stuck in a
transient state after a crash.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle("terminate", args, func(a *app, ctx context.Context, id string) error {
			return a.manager.Terminate(ctx, accountID, id, terminateForce)
		})
	},
}

func init() {
	terminateCmd.Flags().BoolVar(&terminateForce, "force", false, "skip graceful shutdown and accept stuck VMs")
}

func lifecycle(op string, ids []string, fn func(a *app, ctx context.Context, id string) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.runBatch(ctx, op, ids, func(ctx context.Context, id string) error {
		if err := fn(a, ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", id, op)
		return nil
	})
}

var describeCmd = &cobra.Command{
	Use:   "describe <vm-id>",
	Short: "Show a VM",
	Long: `Show a VM record with its volumes and the state the hypervisor reports.
A VM whose domain has gone missing reports NoState.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := a.manager.Describe(ctx, accountID, args[0])
		if err != nil {
			return err
		}
		return a.print(a.formatter.FormatVM(d))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs of the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		ds, err := a.manager.DescribeAll(ctx, accountID)
		if err != nil {
			return err
		}
		return a.print(a.formatter.FormatVMList(ds))
	},
}

var (
	captureName        string
	captureDescription string
	captureTags        map[string]string
)

var captureCmd = &cobra.Command{
	Use:   "capture <vm-id> --name <image-name>",
	Short: "Capture a VM's root volume as an image",
	Long: `Capture a VM's root volume as a private image.

A running VM is stopped for the copy and started again before the image is
generalized with virt-sysprep and compacted with virt-sparsify. The image is
visible only to the owning account and is usable once it reaches READY.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.manager.CreateImageFromVM(ctx, vm.CaptureRequest{
			AccountID:   accountID,
			VMID:        args[0],
			Name:        captureName,
			Description: captureDescription,
			Tags:        captureTags,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureName, "name", "", "image name")
	captureCmd.Flags().StringVar(&captureDescription, "description", "", "image description")
	captureCmd.Flags().StringToStringVar(&captureTags, "tag", nil, "image tags (key=value)")
	_ = captureCmd.MarkFlagRequired("name")
}
