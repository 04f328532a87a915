package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/internal/config"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/libvirt"
	"github.com/jbweber/hearth/internal/logging"
	"github.com/jbweber/hearth/internal/network"
	"github.com/jbweber/hearth/internal/output"
	"github.com/jbweber/hearth/internal/repository"
	"github.com/jbweber/hearth/internal/vm"
	"github.com/jbweber/hearth/internal/worker"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *repository.Store
	conn      *libvirt.Conn
	gateway   *libvirt.Gateway
	manager   *vm.Manager
	pool      *worker.Pool
	formatter output.Formatter
}

// loadConfig reads, validates and applies the logging configuration.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	log, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openStore opens the record store without touching the hypervisor.
func openStore() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	formatter, err := output.NewFormatter(output.Options{Format: output.Format(outputFormat), NoHeaders: noHeaders})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.Root, disk.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	db, err := repository.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		log:       log,
		store:     repository.New(db),
		formatter: formatter,
	}, nil
}

// openApp wires the full stack: store, hypervisor, provisioner, manager and
// worker pool.
func openApp(ctx context.Context) (*app, error) {
	a, err := openStore()
	if err != nil {
		return nil, err
	}

	conn, err := libvirt.Connect(ctx, a.cfg.Libvirt.Socket, a.cfg.Libvirt.Timeout)
	if err != nil {
		a.close()
		return nil, err
	}
	a.conn = conn
	a.gateway = libvirt.NewGateway(conn.Libvirt(), a.log)

	owner, err := disk.OwnerForProcess()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to resolve qemu user: %w", err)
	}
	provisioner := disk.NewProvisioner(a.store.Images, a.store.Volumes, disk.NewWorkspace(a.cfg.Storage.Root, owner), disk.ProvisionerOptions{
		Runner: disk.NewExecRunner(a.cfg.Tools.Timeout, a.log),
		Tools: disk.Tools{
			QemuImg:      a.cfg.Tools.QemuImg,
			VirtSysprep:  a.cfg.Tools.VirtSysprep,
			VirtSparsify: a.cfg.Tools.VirtSparsify,
		},
		Log: a.log,
	})

	a.manager = vm.NewManager(vm.Deps{
		VMs:        a.store.VMs,
		Volumes:    a.store.Volumes,
		Images:     a.store.Images,
		Keys:       a.store.Keys,
		Profiles:   network.NewResolver(a.store.Profiles),
		Disks:      provisioner,
		Hypervisor: a.gateway,
	}, vm.Options{
		Host:             a.cfg.Host.Name,
		CloudName:        a.cfg.Cloud.Name,
		Zone:             a.cfg.Cloud.Zone,
		Region:           a.cfg.Cloud.Region,
		KeepFailedBuilds: !a.cfg.VM.CleanupOnFailure,
		StopTimeout:      a.cfg.VM.StopTimeout,
		ServiceKey:       a.cfg.ServiceKey,
		ConsoleListen:    a.cfg.Console.Listen,
		Log:              a.log,
	})

	a.pool, err = worker.NewPool(worker.Options{Size: a.cfg.Worker.PoolSize, Log: a.log})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close libvirt connection")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close record store")
		}
	}
}

func (a *app) print(s string, err error) error {
	if err != nil {
		return err
	}
	fmt.Print(s)
	return nil
}
