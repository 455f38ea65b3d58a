package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/strand-lang/strand/interp"
	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/stdlib"
	"github.com/strand-lang/strand/value"
	"github.com/strand-lang/strand/vm"
)

var engineFlag string

var runCmd = &cobra.Command{
	Use:   "run SOURCE",
	Short: "Run a program",
	Args:  cobra.ExactArgs(1),
	Run:   runCommand,
}

func init() {
	runCmd.Flags().StringVar(&engineFlag, "engine", "", "Engine to use: interp or vm (overrides session config)")
}

func runCommand(cmd *cobra.Command, args []string) {
	cfg, err := loadSession(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load session config")
	}
	engine := cfg.Engine
	if engineFlag != "" {
		engine = engineFlag
	}

	reg := stdlib.Default()
	prog, err := lang.LowerPath(args[0], reg.Has)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't lower program")
	}

	var result value.Value
	var rerr error
	pool := cfg.pool()
	switch engine {
	case "interp":
		eng := interp.New(reg, interp.Options{Out: os.Stdout, Caps: cfg.caps(), Pool: pool})
		result, rerr = eng.Run(prog)
	case "vm", "":
		compiled, cerr := vm.Compile(prog, reg)
		if cerr != nil {
			reportError(cerr)
		}
		m := vm.NewMachine(compiled, reg, vm.Options{Out: os.Stdout, Caps: cfg.caps(), Pool: pool})
		result, rerr = m.Run()
	default:
		log.Fatal().Str("engine", engine).Msg("Unknown engine")
	}
	pool.Wait()

	if rerr != nil {
		reportError(rerr)
	}
	if result.Kind() != value.KindNull {
		fmt.Println(value.Format(result))
	}
	result.Release()
}

// reportError prints the stable error code prominently and exits nonzero.
func reportError(err error) {
	code := sem.CodeOf(err)
	if code != "" {
		fmt.Fprintln(os.Stderr, color.Red.Sprintf("%s: %s", code, err))
	} else {
		fmt.Fprintln(os.Stderr, color.Red.Sprint(err.Error()))
	}
	os.Exit(1)
}
