// Command hipcprobe is a development smoke harness that dials a
// service manager through the simulated transport and exercises
// GetService/RegisterService round trips for manual inspection. It
// lives entirely outside the core's import graph: it imports only
// htypes, ipc/ipctest, sm and svc, so it can never regress the
// library's build.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/switchipc/hipc/htypes"
	"github.com/switchipc/hipc/sm"
	"github.com/switchipc/hipc/svc"
)

var rootCmd = &cobra.Command{
	Use:   "hipcprobe",
	Short: "Dial a simulated service manager and print round-trip results",
	Long: `hipcprobe drives the dispatch engine against an in-process simulated
transport (no real hardware or kernel involved) and prints the results
of GetService/RegisterService calls, for manual inspection during
development.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hipcprobe: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(getServiceCmd)
	rootCmd.AddCommand(registerServiceCmd)
}

// newSimulatedServiceManager wires up a SimTransport with an sm: port
// and a responder that answers Initialize and echoes GetService /
// RegisterService with a freshly minted handle, purely so this probe
// has something to dial without real hardware.
func newSimulatedServiceManager() (*sm.ServiceManager, *svc.SimTransport, error) {
	sim := svc.NewSimTransport()
	smHandle := sim.NewHandle()
	sim.RegisterPort("sm:", smHandle)

	sim.SetResponder(smHandle, func(tls []byte) htypes.Result {
		probeRespond(sim, tls)
		return htypes.Result(0)
	})

	manager, err := sm.Connect(sim)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to simulated sm:: %w", err)
	}
	return manager, sim, nil
}

var getServiceCmd = &cobra.Command{
	Use:   "get-service NAME",
	Short: "Resolve NAME through a simulated service manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, _, err := newSimulatedServiceManager()
		if err != nil {
			return err
		}
		defer manager.Close()

		session, err := manager.GetService(args[0], false)
		if err != nil {
			return fmt.Errorf("get-service %q: %w", args[0], err)
		}
		defer session.Close()

		fmt.Printf("get-service %q -> handle=%v own_handle=true\n", args[0], session.Handle())
		return nil
	},
}

var registerServiceCmd = &cobra.Command{
	Use:   "register-service NAME",
	Short: "Register NAME with a simulated service manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, _, err := newSimulatedServiceManager()
		if err != nil {
			return err
		}
		defer manager.Close()

		handle, err := manager.RegisterService(args[0], false, 1)
		if err != nil {
			return fmt.Errorf("register-service %q: %w", args[0], err)
		}

		fmt.Printf("register-service %q -> port_handle=%v\n", args[0], handle)
		return nil
	},
}
