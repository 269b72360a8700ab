package cmd

import (
	"encoding/binary"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sarchlab/nachosvm/noff"
)

var mknoffCmd = &cobra.Command{
	Use:   "mknoff <output>",
	Short: "Build a NOFF executable from raw code and data files.",
	Long: `mknoff lays out a NOFF executable with the code at address 0, ` +
		`the initialized data right after it, and the uninitialized data ` +
		`after that.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		codePath, _ := f.GetString("code")
		dataPath, _ := f.GetString("data")
		bss, _ := f.GetInt32("bss")
		bigEndian, _ := f.GetBool("big-endian")

		return mknoff(afero.NewOsFs(), args[0], codePath, dataPath, bss, bigEndian)
	},
}

func init() {
	rootCmd.AddCommand(mknoffCmd)

	f := mknoffCmd.Flags()
	f.String("code", "", "File with the code segment.")
	f.String("data", "", "File with the initialized data segment.")
	f.Int32("bss", 0, "Bytes of uninitialized data.")
	f.Bool("big-endian", false, "Write the header in big endian.")
	_ = mknoffCmd.MarkFlagRequired("code")
}

func mknoff(
	fs afero.Fs,
	out, codePath, dataPath string,
	bss int32,
	bigEndian bool,
) error {
	code, err := afero.ReadFile(fs, codePath)
	if err != nil {
		return err
	}

	var data []byte
	if dataPath != "" {
		data, err = afero.ReadFile(fs, dataPath)
		if err != nil {
			return err
		}
	}

	img := noff.Image{
		Code:           code,
		InitData:       data,
		InitDataAddr:   int32(len(code)),
		UninitDataAddr: int32(len(code) + len(data)),
		UninitDataSize: bss,
	}

	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}

	return afero.WriteFile(fs, out, img.Encode(order), 0o755)
}
