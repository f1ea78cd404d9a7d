package probe

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github/clearid/wallet-engine/internal/config"
	"github/clearid/wallet-engine/internal/util/command"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newLiveness(),
		newReadiness(),
	)
}

func newLiveness() *cobra.Command {
	return &cobra.Command{
		Use:   "liveness",
		Short: "Checks whether the local server process answers at all",
		Run: func(_ *cobra.Command, _ []string) {
			check("/healthz")
		},
	}
}

func newReadiness() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Checks whether the local server is ready to accept requests",
		Run: func(_ *cobra.Command, _ []string) {
			check("/readyz")
		},
	}
}

func check(path string) {
	cfg := config.DefaultServiceConfigFromEnv()

	address := cfg.Echo.ListenAddress
	if strings.HasPrefix(address, ":") {
		address = "127.0.0.1" + address
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + address + path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "probe %s: status %d\n", path, resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("ok")
}
