//go:build !tinygo

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ember/kernel"
)

var regNames = [kernel.ContextWords]string{
	"r4", "r5", "r6", "r7", "r8", "r9", "r10", "r11",
	"r0", "r1", "r2", "r3", "r12", "lr", "pc", "xpsr",
}

var (
	frameOpts = struct {
		base  uint32
		words int
		entry uint32
		arg   uint32
	}{}

	frameCmd = &cobra.Command{
		Use:   "frame",
		Short: "Dump the initial frame fabricated for a new thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack := kernel.Stack{Base: frameOpts.base, Words: make([]uint32, frameOpts.words)}
			sp, err := stack.Install(kernel.InitialContext(frameOpts.entry, frameOpts.arg))
			if err != nil {
				return err
			}
			ctx, err := stack.ReadContext(sp)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			end := frameOpts.base + uint32(frameOpts.words)*4
			fmt.Fprintf(w, "stack 0x%08x..0x%08x (%d words), sp 0x%08x\n", frameOpts.base, end, frameOpts.words, sp)
			for i, v := range ctx {
				fmt.Fprintf(w, "  0x%08x  %-4s  0x%08x\n", sp+uint32(i)*4, regNames[i], v)
			}

			poisoned := 0
			for _, v := range stack.Words {
				if v == kernel.PoisonWord {
					poisoned++
				}
			}
			fmt.Fprintf(w, "poison 0x%08x: %d words below sp\n", kernel.PoisonWord, poisoned)
			return nil
		},
	}
)

func init() {
	frameCmd.Flags().Uint32Var(&frameOpts.base, "base", 0x20000000, "address of the first stack word")
	frameCmd.Flags().IntVarP(&frameOpts.words, "words", "w", 40, "stack size in 32-bit words")
	frameCmd.Flags().Uint32Var(&frameOpts.entry, "entry", 0x08000101, "thread entry address")
	frameCmd.Flags().Uint32Var(&frameOpts.arg, "arg", 0, "value loaded into r0")
}
