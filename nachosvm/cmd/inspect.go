package cmd

import (
	"encoding/binary"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sarchlab/nachosvm/noff"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <program>",
	Short: "Print the NOFF header of a program and the pages it needs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return inspect(cmd.OutOrStdout(), afero.NewOsFs(), args[0],
			cfg.PageSize, cfg.UserStackSize)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspect(w io.Writer, fs afero.Fs, path string, pageSize, stackSize int) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := noff.ReadHeader(f)
	if err != nil {
		return err
	}

	order := "little endian"
	if h.ByteOrder() == binary.BigEndian {
		order = "big endian"
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "byte order\t%s\n", order)
	fmt.Fprintf(tw, "segment\tvaddr\toffset\tsize\n")
	fmt.Fprintf(tw, "code\t%d\t%d\t%d\n",
		h.Code.VirtualAddr, h.Code.InFileAddr, h.Code.Size)
	fmt.Fprintf(tw, "initData\t%d\t%d\t%d\n",
		h.InitData.VirtualAddr, h.InitData.InFileAddr, h.InitData.Size)
	fmt.Fprintf(tw, "uninitData\t%d\t-\t%d\n",
		h.UninitData.VirtualAddr, h.UninitData.Size)
	fmt.Fprintf(tw, "bytes with stack\t%d\n", h.AddressSpaceSize(stackSize))
	fmt.Fprintf(tw, "pages of %d bytes\t%d\n",
		pageSize, h.NumPages(pageSize, stackSize))

	return tw.Flush()
}
