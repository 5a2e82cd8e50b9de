package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/stategc/internal/bytesize"
	"github.com/marmos91/stategc/internal/cli/output"
	"github.com/marmos91/stategc/internal/cli/prompt"
	"github.com/marmos91/stategc/internal/cli/timeutil"
	"github.com/marmos91/stategc/pkg/state"
	"github.com/marmos91/stategc/pkg/store"
	"github.com/marmos91/stategc/pkg/trie"
)

var (
	recycleLimit int
	recycleRaw   bool
	recycleForce bool
)

var recycleCmd = &cobra.Command{
	Use:   "recycle",
	Short: "Inspect and restore recycled nodes",
	Long: `Inspect the recycle bin, where sweeps stage the bytes of deleted nodes
when gc.use_recycle_bin is set.

Subcommands:
  stats    Show usage against the configured limits
  list     List records, oldest first
  get      Show one record
  restore  Write a recycled node back to the node store
  delete   Drop a record permanently`,
}

var recycleStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recycle bin usage",
	RunE:  runRecycleStats,
}

var recycleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recycled nodes, oldest first",
	RunE:  runRecycleList,
}

var recycleGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Show one recycled node",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecycleGet,
}

var recycleRestoreCmd = &cobra.Command{
	Use:   "restore <hash>...",
	Short: "Restore recycled nodes",
	Long: `Write recycled nodes back to the node store and drop their records.

A restored node gets a fresh birth record, so the expired sweep leaves it
alone for a full window even if nothing references it yet.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecycleRestore,
}

var recycleDeleteCmd = &cobra.Command{
	Use:   "delete <hash>...",
	Short: "Drop recycled nodes permanently",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecycleDelete,
}

func init() {
	recycleListCmd.Flags().IntVar(&recycleLimit, "limit", 50, "Maximum records to list (0 for all)")
	recycleGetCmd.Flags().BoolVar(&recycleRaw, "raw", false, "Print the node bytes as hex")
	recycleDeleteCmd.Flags().BoolVarP(&recycleForce, "force", "f", false, "Skip confirmation")

	recycleCmd.AddCommand(recycleStatsCmd)
	recycleCmd.AddCommand(recycleListCmd)
	recycleCmd.AddCommand(recycleGetCmd)
	recycleCmd.AddCommand(recycleRestoreCmd)
	recycleCmd.AddCommand(recycleDeleteCmd)
}

// withRecycleBin opens the configured store and recycle bin for fn.
func withRecycleBin(cmd *cobra.Command, fn func(ctx context.Context, p *output.Printer, rb *state.RecycleBinStore) error) error {
	p, err := newPrinter(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	kv, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore(kv)

	limits := cfg.EffectiveGC().RecycleBin
	rb, err := state.NewRecycleBinStore(ctx, kv, limits.MaxEntries, limits.MaxBytes.Uint64())
	if err != nil {
		return err
	}
	return fn(ctx, p, rb)
}

func parseHashes(args []string) ([]trie.Hash, error) {
	out := make([]trie.Hash, len(args))
	for i, a := range args {
		h, err := trie.ParseHash(a)
		if err != nil {
			return nil, fmt.Errorf("invalid hash %q: %w", a, err)
		}
		out[i] = h
	}
	return out, nil
}

func runRecycleStats(cmd *cobra.Command, args []string) error {
	return withRecycleBin(cmd, func(_ context.Context, p *output.Printer, rb *state.RecycleBinStore) error {
		st := rb.GetStats()
		table := output.KeyValues{}.
			Add("Entries", fmt.Sprintf("%d/%d", st.CurrentEntries, st.MaxEntries)).
			Add("Bytes", fmt.Sprintf("%s/%s", bytesize.ByteSize(st.CurrentBytes), bytesize.ByteSize(st.MaxBytes)))
		return printResult(p, st, table)
	})
}

// recycleView is the printable form of a record, without the node bytes.
type recycleView struct {
	Hash      string             `json:"hash" yaml:"hash"`
	Size      int                `json:"size" yaml:"size"`
	Phase     state.RecyclePhase `json:"phase" yaml:"phase"`
	Source    string             `json:"source" yaml:"source"`
	TxOrder   uint64             `json:"tx_order" yaml:"tx_order"`
	DeletedAt time.Time          `json:"deleted_at" yaml:"deleted_at"`
	Note      string             `json:"note,omitempty" yaml:"note,omitempty"`
}

func newRecycleView(h trie.Hash, rec *state.RecycleRecord) recycleView {
	return recycleView{
		Hash:      h.String(),
		Size:      len(rec.Bytes),
		Phase:     rec.Phase,
		Source:    rec.StaleRootOrCutoff.String(),
		TxOrder:   rec.TxOrder,
		DeletedAt: rec.DeletedAt,
		Note:      rec.Note,
	}
}

type recycleList []recycleView

func (l recycleList) Headers() []string {
	return []string{"Hash", "Size", "Phase", "Tx order", "Deleted at"}
}

func (l recycleList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{
			v.Hash,
			bytesize.ByteSize(v.Size).String(),
			string(v.Phase),
			strconv.FormatUint(v.TxOrder, 10),
			timeutil.FormatTime(v.DeletedAt),
		}
	}
	return rows
}

func runRecycleList(cmd *cobra.Command, args []string) error {
	return withRecycleBin(cmd, func(ctx context.Context, p *output.Printer, rb *state.RecycleBinStore) error {
		entries, err := rb.ListRecords(ctx, recycleLimit)
		if err != nil {
			return err
		}
		list := make(recycleList, len(entries))
		for i, e := range entries {
			list[i] = newRecycleView(e.Hash, &e.Record)
		}
		if len(list) == 0 && p.Format() == output.FormatTable {
			p.Printf("Recycle bin is empty\n")
			return nil
		}
		return p.Print(list)
	})
}

func runRecycleGet(cmd *cobra.Command, args []string) error {
	h, err := trie.ParseHash(args[0])
	if err != nil {
		return fmt.Errorf("invalid hash %q: %w", args[0], err)
	}

	return withRecycleBin(cmd, func(ctx context.Context, p *output.Printer, rb *state.RecycleBinStore) error {
		rec, err := rb.GetRecord(ctx, h)
		if errors.Is(err, state.ErrRecordNotFound) {
			return fmt.Errorf("no recycled node %s", h)
		}
		if err != nil {
			return err
		}
		if recycleRaw {
			p.Printf("%s\n", hex.EncodeToString(rec.Bytes))
			return nil
		}

		v := newRecycleView(h, rec)
		table := output.KeyValues{}.
			Add("Hash", v.Hash).
			Add("Size", bytesize.ByteSize(v.Size).String()).
			Add("Phase", string(v.Phase)).
			Add("Stale root / cutoff", v.Source).
			Add("Tx order", strconv.FormatUint(v.TxOrder, 10)).
			Add("Deleted at", timeutil.FormatTime(v.DeletedAt))
		if v.Note != "" {
			table = table.Add("Note", v.Note)
		}
		return printResult(p, v, table)
	})
}

func runRecycleRestore(cmd *cobra.Command, args []string) error {
	hashes, err := parseHashes(args)
	if err != nil {
		return err
	}

	return withRecycleBin(cmd, func(ctx context.Context, p *output.Printer, rb *state.RecycleBinStore) error {
		for _, h := range hashes {
			if err := rb.Restore(ctx, h, time.Now()); err != nil {
				return fmt.Errorf("restore %s: %w", h, recycleErr(err))
			}
			p.Success(fmt.Sprintf("Restored %s", h))
		}
		return nil
	})
}

func runRecycleDelete(cmd *cobra.Command, args []string) error {
	hashes, err := parseHashes(args)
	if err != nil {
		return err
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Permanently drop %d recycled node(s)?", len(hashes)), recycleForce)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	return withRecycleBin(cmd, func(ctx context.Context, p *output.Printer, rb *state.RecycleBinStore) error {
		for _, h := range hashes {
			if err := rb.DeleteRecord(ctx, h); err != nil {
				return fmt.Errorf("delete %s: %w", h, recycleErr(err))
			}
			p.Success(fmt.Sprintf("Dropped %s", h))
		}
		return nil
	})
}

func recycleErr(err error) error {
	if errors.Is(err, state.ErrRecordNotFound) {
		return errors.New("not in recycle bin")
	}
	if errors.Is(err, store.ErrClosed) {
		return errors.New("store closed")
	}
	return err
}
