package cli

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"

	"github.com/0gfoundation/gated-faucet/internal/contracts"
	"github.com/0gfoundation/gated-faucet/internal/deployer"
	"github.com/0gfoundation/gated-faucet/internal/interact"
	"github.com/0gfoundation/gated-faucet/internal/store"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	okStyle      = color.New(color.FgGreen)
	warnStyle    = color.New(color.FgYellow)
	failStyle    = color.New(color.FgRed)
	faintStyle   = color.New(color.Faint)
	addressStyle = color.New(color.FgWhite, color.Bold)
)

const rule = "════════════════════════════════════════════════════════════"

// banner prints a boxed summary heading.
func banner(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	headerStyle.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, rule)
}

// progress starts a spinner on w for a blocking step.
func progress(w io.Writer, msg string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + msg
	_ = s.Color("cyan", "bold")
	s.Start()
	return s
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderDeploy(w io.Writer, res *deployer.Result, rec *store.Record, path string) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Step", "Role", "Address", "Implementation", "Block", "Tx"})
	for _, s := range res.Steps {
		impl, block, txs := "", "", ""
		if s.Implementation != (common.Address{}) {
			impl = s.Implementation.Hex()
		}
		if s.Skipped {
			block = faintStyle.Sprint("skipped")
		} else {
			block = fmt.Sprint(s.Block)
			txs = strings.Join(lo.Map(s.TxHashes, func(h common.Hash, _ int) string { return shortHash(h) }), " ")
		}
		t.AppendRow(table.Row{s.Step, s.Role, addressStyle.Sprint(s.Address.Hex()), impl, block, txs})
	}
	t.Render()

	banner(w, "DEPLOY COMPLETE")
	fmt.Fprintf(w, "  Chain ID       : %d\n", rec.ChainID)
	for _, role := range rec.Roles() {
		addr, _ := rec.Get(role)
		fmt.Fprintf(w, "  %-15s: %s\n", role, addr.Hex())
	}
	fmt.Fprintf(w, "  Record         : %s\n", path)
	fmt.Fprintln(w, rule)
}

func renderUpgrade(w io.Writer, res *deployer.UpgradeResult) {
	banner(w, "UPGRADE COMPLETE")
	fmt.Fprintf(w, "  Proxy          : %s\n", res.Proxy.Hex())
	fmt.Fprintf(w, "  Previous impl  : %s\n", res.Previous.Hex())
	fmt.Fprintf(w, "  New impl       : %s\n", res.Implementation.Hex())
	fmt.Fprintf(w, "  Upgrade tx     : %s (block %d)\n", res.UpgradeTx.Hex(), res.Block)
	if res.Probe != nil {
		fmt.Fprintf(w, "  Probe          : %v\n", res.Probe)
	}
	fmt.Fprintln(w, rule)
}

func renderReports(w io.Writer, reps []*interact.Report) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Action", "Target", "Subject", "Before", "After", "Gas", "Tx"})
	for _, r := range reps {
		gas := fmt.Sprint(r.GasUsed)
		if r.GasEstimate > 0 {
			gas = fmt.Sprintf("%d (est %d)", r.GasUsed, r.GasEstimate)
		}
		t.AppendRow(table.Row{
			r.Action,
			r.Target.Hex(),
			r.Subject.Hex(),
			formatAmount(r.Action, r.Before),
			formatAmount(r.Action, r.After),
			gas,
			r.TxHash.Hex(),
		})
	}
	t.Render()
	for _, r := range reps {
		okStyle.Fprintf(w, "✅ %s successful, txn hash: %s\n", r.Action, r.TxHash.Hex())
	}
}

func renderStatus(w io.Writer, rec *store.Record, sts []deployer.RoleStatus, path string) {
	headerStyle.Fprintf(w, "Deployment record %s (chain %d)\n", path, rec.ChainID)
	t := newTable(w)
	if sts == nil {
		t.AppendHeader(table.Row{"Role", "Address"})
		for _, role := range rec.Roles() {
			addr, _ := rec.Get(role)
			t.AppendRow(table.Row{role, addr.Hex()})
		}
		t.Render()
		return
	}
	t.AppendHeader(table.Row{"Role", "Address", "Code", "Implementation"})
	for _, st := range sts {
		code := okStyle.Sprint("yes")
		if !st.Deployed {
			code = failStyle.Sprint("missing")
		}
		impl := ""
		if st.Implementation != (common.Address{}) {
			impl = st.Implementation.Hex()
		}
		t.AppendRow(table.Row{st.Role, st.Address.Hex(), code, impl})
	}
	t.Render()
}

// formatAmount shows native balances in ether and token balances as counts.
func formatAmount(action string, v *big.Int) string {
	if v == nil {
		return "-"
	}
	if action == interact.ActionMint {
		return v.String()
	}
	return contracts.FormatEther(v) + " ETH"
}

func shortHash(h common.Hash) string {
	s := h.Hex()
	return s[:10] + "…"
}
