package main

import (
	"fmt"
	"path/filepath"

	"github.com/chazu/strand/asm"
	"github.com/chazu/strand/config"
	"github.com/chazu/strand/vm"
	"github.com/chazu/strand/vm/crash"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configPath  string
	crashReport string
	disasm      bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Assemble FILE and run its main method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "configuration file (default: nearest strand.toml)")
	cmd.Flags().StringVar(&opts.crashReport, "crash-report", "", "write a CBOR crash report here if the program dies")
	cmd.Flags().BoolVar(&opts.disasm, "disasm", false, "print the disassembly before running")
	return cmd
}

// loadConfig reads the explicit config file, or the nearest strand.toml
// above the program, or the defaults.
func loadConfig(path, program string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	c, err := config.FindAndLoad(filepath.Dir(program))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return config.Default(), nil
	}
	return c, nil
}

func runProgram(cmd *cobra.Command, path string, opts runOptions) error {
	cfg, err := loadConfig(opts.configPath, path)
	if err != nil {
		return err
	}
	configureLogging(cmd, cfg.Log.Verbosity, cfg.LogPath())

	prog, err := asm.AssembleFile(path)
	if err != nil {
		return err
	}
	entry := prog.Main()
	if entry == nil {
		return fmt.Errorf("%s: no %s method", path, asm.MainMethod)
	}
	if opts.disasm {
		fmt.Fprint(cmd.OutOrStdout(), prog.Disassemble())
	}

	reportPath := opts.crashReport
	if reportPath == "" {
		reportPath = cfg.CrashReportPath()
	}

	vmOpts := cfg.VMOptions()
	vmOpts.Stdout = cmd.OutOrStdout()
	vmOpts.Stderr = cmd.ErrOrStderr()
	vmOpts.Exit = exit

	var interp *vm.Interpreter
	if reportPath != "" {
		vmOpts.OnUncaught = func(exc *vm.Exception) {
			r := crash.FromException(exc, interp.Active().Status().String())
			r.Program = prog.File
			if err := crash.WriteFile(reportPath, r); err != nil {
				log.Errorf("%s", err)
				return
			}
			log.Infof("crash report written to %s", reportPath)
		}
	}

	interp = vm.New(vmOpts)
	defer interp.Close()
	prog.Install(interp)

	log.Debugf("running %s", path)
	result := interp.Run(entry)
	if n, ok := vm.IntValue(result); ok {
		// an integer result from main is the exit status
		exit(int(n))
	}
	return nil
}
