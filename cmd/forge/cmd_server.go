package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lalaz-foundation/forge/config"
	forgegrpc "github.com/lalaz-foundation/forge/pkg/grpc"
	"github.com/lalaz-foundation/forge/pkg/logger"
)

// forge run — always delegates to `go run <entrypoint> serve` in the
// current directory (see runInProject), in both project and
// framework-self mode.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the HTTP server (alias: serve)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInProject("serve")
	},
}

// forge route:list — in project mode this delegates; in framework-self mode
// it just explains that routes come from the user project.
var routeListCmd = &cobra.Command{
	Use:   "route:list",
	Short: "List all registered named routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if isFrameworkSelf() {
			fmt.Println("route:list requires your project's app.New().Routes(...) to be registered.")
			fmt.Println("Run from a project directory:  forge route:list")
			return nil
		}
		return runInProject("route:list")
	},
}

// printRouteTable is a helper used internally when routes are available.
func printRouteTable(infos []routeInfo) {
	if len(infos) == 0 {
		fmt.Println("No named routes registered.")
		return
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Path != infos[j].Path {
			return infos[i].Path < infos[j].Path
		}
		return infos[i].Method < infos[j].Method
	})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "METHOD\tPATH\tNAME")
	fmt.Fprintln(w, "------\t----\t----")
	for _, ri := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ri.Method, ri.Path, ri.Name)
	}
	w.Flush() //nolint:errcheck
}

type routeInfo struct{ Method, Path, Name string }

// forge build — compile the server binary.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the forge server binary (outputs ./forge)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Building forge…")
		c := exec.Command("go", "build", "-o", "forge", "./cmd/server")
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("build failed: %w", err)
		}
		fmt.Println("✅  Built: ./forge")
		return nil
	},
}

// forge serve — alias kept for muscle memory (delegates in project mode).
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInProject("serve")
	},
}

// forge grpc:serve — start gRPC server standalone.
var grpcServeCmd = &cobra.Command{
	Use:   "grpc:serve",
	Short: "Start the gRPC server only (health-check + reflection)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return err
		}

		grpcSrv, _, err := forgegrpc.Start(config.GRPCPort())
		if err != nil {
			return err
		}
		fmt.Printf("🔌 gRPC server running on :%s\n", config.GRPCPort())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		fmt.Println("shutting down gRPC server…")
		forgegrpc.Stop(grpcSrv)
		logger.CloseMongoHandler()
		return nil
	},
}
