package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-tty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sarchlab/nachosvm/addrspace"
	"github.com/sarchlab/nachosvm/config"
)

var runCmd = &cobra.Command{
	Use:   "run <program> [args...]",
	Short: "Load a NOFF program and touch every page of it.",
	Long: `run loads a NOFF program into a fresh address space, stages its ` +
		`arguments on the user stack, and reads one word of every page so ` +
		`that the paging behavior of the configured machine shows up in the ` +
		`traces. Flags override the NACHOS_* settings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cfg, err = applyRunFlags(cmd, cfg)
		if err != nil {
			return err
		}

		s, err := newSession(cfg, afero.NewOsFs())
		if err != nil {
			return err
		}
		defer s.close()

		if s.monitor != nil {
			port := s.monitor.StartServer()

			if openBrowser, _ := cmd.Flags().GetBool("open-browser"); openBrowser {
				err = s.monitor.OpenBrowser(port)
				if err != nil {
					warn("cannot open browser: %v", err)
				}
			}
		}

		noTouch, _ := cmd.Flags().GetBool("no-touch")

		p, err := s.run(args[0], args[1:], !noTouch)
		if err != nil {
			return err
		}

		s.report(cmd.OutOrStdout(), p)

		if hold, _ := cmd.Flags().GetBool("hold"); hold {
			waitForKey()
		}

		return s.kernel.Exit(p.ID)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("mode", "", "Paging mode, direct or lazy.")
	f.Int("page-size", 0, "Bytes per page.")
	f.Int("frames", 0, "Number of physical frames.")
	f.Int("tlb", 0, "Number of TLB slots. Zero disables the TLB.")
	f.Int("stack", 0, "Bytes of user stack.")
	f.String("trace", "", "Write paging events as CSV to this file.")
	f.String("record-driver", "", "Database driver that stores paging events.")
	f.String("record-dsn", "", "Data source name of the event database.")
	f.Int("monitor-port", 0, "Serve the monitor on this port. Zero picks a free port.")
	f.Bool("open-browser", false, "Open the monitor in a browser.")
	f.Bool("hold", false, "Wait for a key press before exiting.")
	f.Bool("no-touch", false, "Only load the program and stage its arguments.")
}

func applyRunFlags(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	f := cmd.Flags()

	if f.Changed("mode") {
		v, _ := f.GetString("mode")

		mode, err := addrspace.ParsePagingMode(v)
		if err != nil {
			return cfg, err
		}

		cfg.PagingMode = mode
	}

	ints := map[string]*int{
		"page-size":    &cfg.PageSize,
		"frames":       &cfg.NumPhysPages,
		"tlb":          &cfg.TLBSize,
		"stack":        &cfg.UserStackSize,
		"monitor-port": &cfg.MonitorPort,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	strs := map[string]*string{
		"trace":         &cfg.TraceFile,
		"record-driver": &cfg.RecordDriver,
		"record-dsn":    &cfg.RecordDSN,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	if cfg.PagingMode == addrspace.LazyMode && cfg.TLBSize == 0 &&
		!f.Changed("tlb") {
		cfg.TLBSize = 4
	}

	return cfg, cfg.Validate()
}

func waitForKey() {
	t, err := tty.Open()
	if err != nil {
		warn("cannot read the terminal: %v", err)
		return
	}
	defer t.Close()

	fmt.Fprintln(os.Stderr, "Press any key to exit.")

	_, err = t.ReadRune()
	if err != nil {
		warn("reading the terminal: %v", err)
	}
}
