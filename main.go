// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/goopcall/internal/app"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/proto"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	token    = flag.String("token", "", "Loop token the serve command dials")
	openUI   = flag.Bool("open", false, "Open the call state page in a browser (serve)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopcall v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	command := args[0]

	switch command {
	case "serve":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: serve command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goopcall [-token T] serve <peer-directory>")
			os.Exit(1)
		}
		runServe(args[1])

	case "dial":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: dial command requires directory path and loop token")
			fmt.Fprintln(os.Stderr, "Usage: goopcall dial <peer-directory> <token> [audio|audio-video]")
			os.Exit(1)
		}
		ct := proto.CallTypeAudioVideo
		if len(args) > 3 {
			ct = proto.CallType(args[3])
		}
		os.Exit(runDial(args[1], args[2], ct))

	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goopcall init <peer-directory>")
			os.Exit(1)
		}
		runInit(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

// loadPeer resolves the peer directory and loads (or creates) its config.
func loadPeer(peerDirArg string) (string, string, config.Config) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}

	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Peer directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		log.Printf("Created default config at %s", cfgPath)
	}
	return absDir, cfgPath, cfg
}

// signalContext cancels on the first Ctrl+C or SIGTERM.
func signalContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			log.Println(msg)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runServe(peerDirArg string) {
	absDir, cfgPath, cfg := loadPeer(peerDirArg)

	printPeerBanner(absDir, cfgPath, cfg)

	ctx, cancel := signalContext("\nShutting down gracefully...")
	defer cancel()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Token:   *token,
		Open:    *openUI,
	}); err != nil {
		log.Fatalf("Serve failed: %v", err)
	}
}

func runDial(peerDirArg, loopToken string, ct proto.CallType) int {
	absDir, _, cfg := loadPeer(peerDirArg)

	ctx, cancel := signalContext("\nCancelling call...")
	defer cancel()

	st, err := app.Dial(ctx, app.DialOptions{
		PeerDir:  absDir,
		Cfg:      cfg,
		Token:    loopToken,
		CallType: ct,
		In:       os.Stdin,
		Out:      os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	switch st {
	case call.StateFailure, call.StateExpired:
		return 1
	}
	return 0
}

func runInit(peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Failed to create peer directory: %v", err)
	}

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, err := config.LoadPartial(cfgPath)
	if err != nil {
		cfg = config.Default()
	}

	cfg = app.PromptInteractive(os.Stdin, os.Stdout, absDir, cfgPath, cfg)
	if err := config.Save(cfgPath, cfg); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
}

func showUsage() {
	fmt.Println("goopcall - outgoing call coordinator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopcall [-token T] [-open] serve <directory>")
	fmt.Println("  goopcall dial <directory> <token> [audio|audio-video]")
	fmt.Println("  goopcall init <directory>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve <directory>")
	fmt.Println("        Run the call controller and its HTTP API for a peer directory")
	fmt.Println("        The directory holds goopcall.json and the call history")
	fmt.Println()
	fmt.Println("  dial <directory> <token> [call-type]")
	fmt.Println("        Place one call from the terminal; Ctrl+C cancels or hangs up")
	fmt.Println()
	fmt.Println("  init <directory>")
	fmt.Println("        Write goopcall.json interactively")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -token    Loop token for serve")
	fmt.Println("  -open     Open the state endpoint in a browser (serve)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopcall init ./peers/me")
	fmt.Println("  goopcall -token abc123 serve ./peers/me")
	fmt.Println("  goopcall dial ./peers/me abc123 audio")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                   goopcall controller                  ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	if cfg.CallServer.BaseURL != "" {
		fmt.Printf("Call Server:    %s\n", cfg.CallServer.BaseURL)
	} else {
		fmt.Println("Call Server:    (not configured, calls will fail at setup)")
	}
	if *token == "" {
		fmt.Println("Loop Token:     (none, starts fail with missing_conversation_info)")
	}
	fmt.Println()

	if cfg.Viewer.HTTPAddr != "" {
		_, url := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		fmt.Printf("🌐 Call API:  %s\n", url)
		fmt.Println()
	}

	fmt.Println("Starting... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
