// Package agent implements the per-node sidecar the nemesis talks to. It
// exposes process control (start/kill/pause/resume of the store process) and
// network control (partition rules, packet delay) over authenticated
// JSON-RPC, and the driver-side hooks that consume them.
package agent

import (
	"fmt"
	"net/rpc"
	"os/exec"
	"strconv"

	"github.com/replicheck/replicheck/jrpc"
	"github.com/replicheck/replicheck/log"
)

// ProcRpc controls the store process on this node.
type ProcRpc struct {
	// Process is the pattern handed to pkill.
	Process string
	// StartCommand is run via the shell to (re)start the store.
	StartCommand string
}

type Empty struct{}

func (p *ProcRpc) Start(arg *Empty, reply *string) error {
	err := exec.Command("bash", "-c", p.StartCommand).Run()
	log.Info("agent: start %q returned %v", p.StartCommand, err)
	if err != nil {
		return err
	}
	*reply = "ok"
	return nil
}

func (p *ProcRpc) Kill(arg *Empty, reply *string) error {
	return p.signal("KILL", reply)
}

// Pause stops the process with SIGSTOP. The process is not terminated;
// Resume continues it from where it stopped.
func (p *ProcRpc) Pause(arg *Empty, reply *string) error {
	return p.signal("STOP", reply)
}

func (p *ProcRpc) Resume(arg *Empty, reply *string) error {
	return p.signal("CONT", reply)
}

func (p *ProcRpc) signal(sig string, reply *string) error {
	err := exec.Command("pkill", "-"+sig, p.Process).Run()
	log.Info("agent: pkill -%s %q returned %v", sig, p.Process, err)
	if err != nil {
		return err
	}
	*reply = "ok"
	return nil
}

// NetRpc manipulates this node's connectivity.
type NetRpc struct {
	// Device is the interface used for delay rules, e.g. "eth0".
	Device string
}

// Drop installs iptables rules dropping traffic from each given peer.
func (n *NetRpc) Drop(peers *[]string, reply *string) error {
	for _, peer := range *peers {
		if err := iptables("-A", "INPUT", "-s", peer, "-j", "DROP"); err != nil {
			return err
		}
	}
	*reply = "ok"
	return nil
}

// Heal removes all partition rules.
func (n *NetRpc) Heal(arg *Empty, reply *string) error {
	if err := iptables("-P", "INPUT", "ACCEPT"); err != nil {
		return err
	}
	if err := iptables("-F", "INPUT"); err != nil {
		return err
	}
	*reply = "ok"
	return nil
}

type DelayArgs struct {
	Millis int
}

func (n *NetRpc) Delay(arg *DelayArgs, reply *string) error {
	err := exec.Command("tc", "qdisc", "add", "dev", n.Device, "root",
		"netem", "delay", strconv.Itoa(arg.Millis)+"ms").Run()
	log.Info("agent: netem delay %dms on %s returned %v", arg.Millis, n.Device, err)
	if err != nil {
		return err
	}
	*reply = "ok"
	return nil
}

func (n *NetRpc) ClearDelay(arg *Empty, reply *string) error {
	err := exec.Command("tc", "qdisc", "del", "dev", n.Device, "root").Run()
	log.Info("agent: netem clear on %s returned %v", n.Device, err)
	if err != nil {
		return err
	}
	*reply = "ok"
	return nil
}

func iptables(args ...string) error {
	err := exec.Command("iptables", args...).Run()
	log.Info("agent: iptables %v returned %v", args, err)
	return err
}

// Serve registers the services and blocks accepting connections.
func Serve(port int, password string, proc *ProcRpc, net *NetRpc) error {
	if err := rpc.Register(proc); err != nil {
		return err
	}
	if err := rpc.Register(net); err != nil {
		return err
	}
	return jrpc.Listen(fmt.Sprintf(":%d", port), []byte(password))
}
