package capability

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/luthermonson/go-proxmox"

	"github.com/sweeney/ups-guardian/internal/config"
)

// VMController enumerates and gracefully stops virtual machines (spec §4.6
// stage 2).
type VMController interface {
	ListRunning(ctx context.Context) ([]VM, error)
	Shutdown(ctx context.Context, vm VM) error
	ForceStop(ctx context.Context, vm VM) error
}

// VM identifies one running virtual machine.
type VM struct {
	ID   int
	Name string
}

// ProxmoxVMController talks to the Proxmox VE API via go-proxmox, the
// typed-client analogue of the teacher's typed go.nut client — chosen over
// shelling out to virsh because Proxmox already exposes this as a first-
// class HTTP API with its own task-polling model. Shutdown waits on the
// resulting Proxmox task with go-proxmox's Task.Wait, polling every 5s; the
// vm_max_wait bound comes from the sequencer's own poll loop.
type ProxmoxVMController struct {
	client *proxmox.Client
	node   string
}

// NewProxmoxVMController authenticates against cfg using an API token.
func NewProxmoxVMController(cfg config.ProxmoxConfig) (*ProxmoxVMController, error) {
	httpClient := &http.Client{}
	if cfg.SkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // operator opt-in for self-signed lab certs
		}
	}

	client := proxmox.NewClient(cfg.Host,
		proxmox.WithHTTPClient(httpClient),
		proxmox.WithAPIToken(cfg.TokenID, cfg.Secret),
	)

	return &ProxmoxVMController{client: client, node: cfg.Node}, nil
}

// ListRunning returns every VM the node reports as running.
func (p *ProxmoxVMController) ListRunning(ctx context.Context) ([]VM, error) {
	node, err := p.client.Node(ctx, p.node)
	if err != nil {
		return nil, fmt.Errorf("fetching proxmox node %q: %w", p.node, err)
	}

	vms, err := node.VirtualMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing virtual machines on %q: %w", p.node, err)
	}

	var running []VM
	for _, vm := range vms {
		if vm.Status == "running" {
			running = append(running, VM{ID: int(vm.VMID), Name: vm.Name})
		}
	}
	return running, nil
}

// Shutdown requests a graceful ACPI shutdown of vm and waits for the
// resulting task to complete, bounded by ctx.
func (p *ProxmoxVMController) Shutdown(ctx context.Context, vm VM) error {
	node, err := p.client.Node(ctx, p.node)
	if err != nil {
		return fmt.Errorf("fetching proxmox node %q: %w", p.node, err)
	}
	pvm, err := node.VirtualMachine(ctx, vm.ID)
	if err != nil {
		return fmt.Errorf("fetching vm %d: %w", vm.ID, err)
	}

	task, err := pvm.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("requesting shutdown of vm %d (%s): %w", vm.ID, vm.Name, err)
	}
	if err := task.Wait(ctx, 5*time.Second, 0); err != nil {
		return fmt.Errorf("waiting for vm %d (%s) to shut down: %w", vm.ID, vm.Name, err)
	}
	return nil
}

// ForceStop hard-powers-off a VM that did not respond to Shutdown within
// vm_max_wait (spec §4.6: "force-destroy survivors").
func (p *ProxmoxVMController) ForceStop(ctx context.Context, vm VM) error {
	node, err := p.client.Node(ctx, p.node)
	if err != nil {
		return fmt.Errorf("fetching proxmox node %q: %w", p.node, err)
	}
	pvm, err := node.VirtualMachine(ctx, vm.ID)
	if err != nil {
		return fmt.Errorf("fetching vm %d: %w", vm.ID, err)
	}

	task, err := pvm.Stop(ctx)
	if err != nil {
		return fmt.Errorf("force-stopping vm %d (%s): %w", vm.ID, vm.Name, err)
	}
	return task.Wait(ctx, 5*time.Second, 0)
}
