// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hyperware-ai/hyperdrive/internal/pkg/address"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/boot"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/config"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/keyfile"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/registry"
	"github.com/hyperware-ai/hyperdrive/internal/pkg/sylog"
)

// Top level flags shared across subcommands.
var (
	homeDir    string
	configFile string
	verbose    bool
	debugFlag  bool
	quiet      bool
)

var hyperdriveCmd = &cobra.Command{
	Use:   "hyperdrive",
	Short: "hyperdrive runs a node in the hyperware peer-to-peer network",
	RunE: func(_ *cobra.Command, _ []string) error {
		return fmt.Errorf("invalid command, see hyperdrive --help")
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	pf := hyperdriveCmd.PersistentFlags()
	pf.StringVar(&homeDir, "home", "", "node data directory (default ~/.hyperdrive)")
	pf.StringVar(&configFile, "config", "", "path to a config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "increase printout verbosity")
	pf.BoolVarP(&debugFlag, "debug", "d", false, "print debugging information (highest verbosity)")
	pf.BoolVarP(&quiet, "quiet", "q", false, "only print errors")

	hyperdriveCmd.AddCommand(runCmd)
	hyperdriveCmd.AddCommand(keygenCmd)
	hyperdriveCmd.AddCommand(debugCmd)
}

// Execute adds all child commands to the root command and runs it, trapping
// Ctrl-C the way the teacher's ExecuteSingularity does so a node shuts down
// cleanly instead of being killed mid-write.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(c)
		cancel()
	}()
	go func() {
		select {
		case sig := <-c:
			sylog.Debugf("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := hyperdriveCmd.ExecuteContext(ctx); err != nil {
		hyperdriveCmd.PrintErrf("Error: %v\n", err)
		os.Exit(1)
	}
}

func applyVerbosity() {
	switch {
	case quiet:
		sylog.SetLevel(int(sylog.LevelError))
	case debugFlag:
		sylog.SetLevel(int(sylog.LevelDebug))
	case verbose:
		sylog.SetLevel(int(sylog.LevelVerbose))
	}
}

func resolveHome() (string, error) {
	if homeDir != "" {
		return homeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".hyperdrive"), nil
}

// --- run ---------------------------------------------------------------

var runNodeName string

var runCmd = &cobra.Command{
	Use:   "run <node-name>",
	Short: "boot a node and run its kernel loop until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runNodeName = args[0]
		return runRun(cmd.Context())
	},
}

func runRun(ctx context.Context) error {
	applyVerbosity()

	home, err := resolveHome()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("creating home directory %s: %w", home, err)
	}

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	cfg.Home = home

	var node *boot.Node
	err = keyfile.Locked(home, func() error {
		kf, lerr := loadOrPromptKeyfile(home, runNodeName)
		if lerr != nil {
			return lerr
		}
		node, lerr = boot.New(runNodeName, cfg, kf)
		return lerr
	})
	if err != nil {
		return err
	}

	go func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	}()

	runErr := node.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	node.Shutdown()

	return runErr
}

// loadOrPromptKeyfile loads the keyfile at home/<node>.keyfile, prompting
// for a password on the terminal either way (spec §4.8: password-hash is
// never itself persisted).
func loadOrPromptKeyfile(home, nodeName string) (*keyfile.Keyfile, error) {
	path := filepath.Join(home, nodeName+".keyfile")
	passwordHash, err := promptPasswordHash(fmt.Sprintf("password for %s: ", nodeName))
	if err != nil {
		return nil, err
	}
	enc, err := keyfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("run: no keyfile at %s, run `hyperdrive keygen %s` first: %w", path, nodeName, err)
	}
	return enc.Decrypt(passwordHash)
}

func promptPasswordHash(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	sum := sha256.Sum256(pw)
	return sum[:], nil
}

// --- keygen --------------------------------------------------------------

var keygenRouters []string

var keygenCmd = &cobra.Command{
	Use:   "keygen <node-name>",
	Short: "generate a new keyfile for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKeygen(args[0])
	},
}

func init() {
	keygenCmd.Flags().StringSliceVar(&keygenRouters, "router", nil, "router node name this node relays indirect connections through (repeatable)")
}

func runKeygen(nodeName string) error {
	applyVerbosity()

	home, err := resolveHome()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("creating home directory %s: %w", home, err)
	}
	path := filepath.Join(home, nodeName+".keyfile")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("keygen: %s already exists, remove it first to regenerate", path)
	}

	passwordHash, err := promptPasswordHashConfirm()
	if err != nil {
		return err
	}

	netKey, err := keyfile.GenerateNetworkingKey()
	if err != nil {
		return err
	}
	jwtSecret, err := generateSecret(32)
	if err != nil {
		return err
	}
	fileKey, err := generateSecret(32)
	if err != nil {
		return err
	}

	_, enc, err := keyfile.New(nodeName, keygenRouters, netKey, jwtSecret, fileKey, passwordHash)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}

	return keyfile.Locked(home, func() error {
		return keyfile.Save(path, enc)
	})
}

func promptPasswordHashConfirm() ([]byte, error) {
	first, err := promptPasswordHash("new password: ")
	if err != nil {
		return nil, err
	}
	second, err := promptPasswordHash("confirm password: ")
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("keygen: passwords did not match")
	}
	return first, nil
}

// --- debug -----------------------------------------------------------------

var (
	debugProcessMap bool
	debugProcess    string
)

var debugCmd = &cobra.Command{
	Use:   "debug <node-name>",
	Short: "inspect a node's process registry while it is stopped",
	Long: "debug opens a stopped node's on-disk registry directly (spec §6's " +
		"Debug request is a live process asking its own kernel over the bus; " +
		"this is the operator-facing equivalent for offline inspection, since " +
		"a process registry's on-disk state is readable on its own).",
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runDebug(args[0])
	},
}

func init() {
	debugCmd.Flags().BoolVar(&debugProcessMap, "process-map", false, "list every registered process")
	debugCmd.Flags().StringVar(&debugProcess, "process", "", "show a single process by id")
}

func runDebug(nodeName string) error {
	applyVerbosity()
	if !debugProcessMap && debugProcess == "" {
		return fmt.Errorf("debug: pass --process-map or --process <id>")
	}

	home, err := resolveHome()
	if err != nil {
		return err
	}
	dbPath := filepath.Join(home, "registry.db")
	reg, err := registry.Open(nodeName, dbPath, debugEngine{})
	if err != nil {
		return fmt.Errorf("debug: opening registry at %s: %w", dbPath, err)
	}
	defer reg.Close()

	if debugProcessMap {
		for _, p := range reg.All() {
			fmt.Printf("%-40s on_exit=%-10v public=%v\n", p.ProcessID, p.OnExit.Kind, p.Public)
		}
		return nil
	}

	pid, err := address.ParseProcessID(debugProcess)
	if err != nil {
		return fmt.Errorf("debug: %w", err)
	}
	p, ok := reg.Get(pid)
	if !ok {
		return fmt.Errorf("debug: no such process %s", pid)
	}
	fmt.Printf("%+v\n", p)
	return nil
}

// debugEngine never actually instantiates anything: debug only reads
// persisted rows back out of the registry, it never spawns.
type debugEngine struct{}

func (debugEngine) Instantiate(address.Address, string, func(error)) error { return nil }
func (debugEngine) Kill(address.Address) error                            { return nil }

func generateSecret(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return b, nil
}
