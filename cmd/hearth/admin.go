package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/network"
	"github.com/jbweber/hearth/internal/repository"
)

// Network profile commands
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage network profiles",
	Long: `Manage the account's network profiles.

A BridgeToLan profile puts VMs directly on a LAN bridge with static
addresses validated against the profile's subnet. A NAT profile attaches VMs
to a libvirt virtual network that hands out its own addresses.`,
}

var profileFlags struct {
	kind           string
	subnet         string
	gateway        string
	dns            []string
	bridge         string
	virtualNetwork string
	tags           map[string]string
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a network profile",
	Long: `Create a network profile.

Example:
  hearth profile create home --type bridge --subnet 172.16.9.0/24 \
      --gateway 172.16.9.1 --dns 172.16.9.1 --bridge br0
  hearth profile create lab --type nat --virtual-network default`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := &v1alpha1.NetworkProfile{Name: args[0]}
		profile.AccountID = accountID
		profile.Tags = profileFlags.tags

		switch strings.ToLower(profileFlags.kind) {
		case "bridge", strings.ToLower(string(v1alpha1.NetworkBridgeToLan)):
			profile.Type = v1alpha1.NetworkBridgeToLan
			prefix, err := netip.ParsePrefix(profileFlags.subnet)
			if err != nil {
				return fmt.Errorf("invalid --subnet %q: %w", profileFlags.subnet, err)
			}
			profile.Config = v1alpha1.NetworkConfig{
				Network: prefix.Addr().String(),
				Prefix:  prefix.Bits(),
				Gateway: profileFlags.gateway,
				Bridge:  profileFlags.bridge,
			}
		case "nat":
			profile.Type = v1alpha1.NetworkNAT
			profile.Config = v1alpha1.NetworkConfig{VirtualNetwork: profileFlags.virtualNetwork}
		default:
			return fmt.Errorf("unknown --type %q (valid types: bridge, nat)", profileFlags.kind)
		}
		profile.Config.DNSServers = profileFlags.dns

		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		if err := network.NewResolver(a.store.Profiles).Create(cmd.Context(), profile); err != nil {
			return err
		}
		fmt.Println(profile.ID)
		return nil
	},
}

func init() {
	f := profileCreateCmd.Flags()
	f.StringVar(&profileFlags.kind, "type", "bridge", "profile type: bridge or nat")
	f.StringVar(&profileFlags.subnet, "subnet", "", "subnet in CIDR form (bridge)")
	f.StringVar(&profileFlags.gateway, "gateway", "", "default gateway (bridge)")
	f.StringSliceVar(&profileFlags.dns, "dns", nil, "DNS servers")
	f.StringVar(&profileFlags.bridge, "bridge", "", "host bridge interface (bridge)")
	f.StringVar(&profileFlags.virtualNetwork, "virtual-network", "", "libvirt network name (nat, default \"default\")")
	f.StringToStringVar(&profileFlags.tags, "tag", nil, "profile tags (key=value)")

	profileCmd.AddCommand(profileCreateCmd)
}

// Key pair commands
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage SSH public keys",
}

var keyImportCmd = &cobra.Command{
	Use:   "import <name> <public-key-file>",
	Short: "Import an SSH public key",
	Long: `Import an SSH public key under a name. Use - to read the key from stdin.

Example:
  hearth key import laptop ~/.ssh/id_ed25519.pub`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[1] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[1])
		}
		if err != nil {
			return fmt.Errorf("failed to read public key: %w", err)
		}

		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		kp, err := a.store.Keys.Import(cmd.Context(), accountID, args[0], strings.TrimSpace(string(data)))
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", kp.Name, kp.Fingerprint)
		return nil
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		keys, err := a.store.Keys.ListByAccount(cmd.Context(), accountID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tFINGERPRINT")
		for _, kp := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", kp.Name, kp.Fingerprint)
		}
		return w.Flush()
	},
}

func init() {
	keyCmd.AddCommand(keyImportCmd)
	keyCmd.AddCommand(keyListCmd)
}

// Image catalog commands
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage the image catalog",
	Long: `Manage the image catalog.

Guest images are visible to every account. Images captured from a VM are
visible only to the account that owns the VM.`,
}

var imageFlags struct {
	guest       bool
	description string
}

var imageRegisterCmd = &cobra.Command{
	Use:   "register <name> <path>",
	Short: "Register an image file",
	Long: `Register an existing qcow2 or raw image file in the catalog. The file is
used in place and cloned for every VM launched from it.

Example:
  hearth image register fedora-42 /var/lib/hearth/base/fedora-42.qcow2 --guest`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		format, err := disk.DetectImageFormat(path)
		if err != nil {
			return err
		}

		img := &v1alpha1.Image{
			Name:        args[0],
			Description: imageFlags.description,
			Visibility:  v1alpha1.ImageVisibilityUser,
			Format:      string(format),
			Path:        path,
			State:       v1alpha1.ImageStateReady,
		}
		img.AccountID = accountID
		if imageFlags.guest {
			img.Visibility = v1alpha1.ImageVisibilityGuest
		}

		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Images.Insert(cmd.Context(), img); err != nil {
			return err
		}
		fmt.Println(img.ID)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List images visible to the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		imgs, err := a.store.Images.ListVisible(cmd.Context(), accountID)
		if err != nil {
			return err
		}
		ptrs := make([]*v1alpha1.Image, len(imgs))
		for i := range imgs {
			ptrs[i] = &imgs[i]
		}
		return a.print(a.formatter.FormatImageList(ptrs))
	},
}

var imageDeactivateCmd = &cobra.Command{
	Use:   "deactivate <image-id>",
	Short: "Hide an image from launches and listings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		img, err := a.store.Images.FindVisible(ctx, args[0], accountID)
		if err != nil {
			return err
		}
		if img.AccountID != accountID {
			return fmt.Errorf("image %s is owned by account %s", img.ID, img.AccountID)
		}
		return a.store.Images.Deactivate(ctx, img.ID)
	},
}

func init() {
	imageRegisterCmd.Flags().BoolVar(&imageFlags.guest, "guest", false, "make the image visible to every account")
	imageRegisterCmd.Flags().StringVar(&imageFlags.description, "description", "", "image description")

	imageCmd.AddCommand(imageRegisterCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageDeactivateCmd)
}

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List every domain on the host",
	Long: `List every libvirt domain on the host with the hearth record it belongs
to. Domains hearth created carry ownership metadata; a domain with metadata
but no record is left over from an interrupted operation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		infos, err := a.gateway.ListDomains()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DOMAIN\tRUN-STATE\tACCOUNT\tRECORD")
		for _, info := range infos {
			account, record := "-", "unmanaged"
			if info.Record != nil {
				account = info.Record.AccountID
				record = recordStatus(ctx, a, info.Record.VMID)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Name, info.State, account, record)
		}
		return w.Flush()
	},
}

func recordStatus(ctx context.Context, a *app, vmID string) string {
	rec, err := a.store.VMs.Get(ctx, vmID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "missing"
	case err != nil:
		return "error"
	}
	return string(rec.State)
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		client, err := libvirt.Connect(cmd.Context(), cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()
		fmt.Printf("Connected to %s\n", client.Socket())

		version, err := client.Ping()
		if err != nil {
			return err
		}
		fmt.Printf("Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("Connection URI: %s\n", uri)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and HEARTH_*
environment variables are applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
