package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/coil/pkg/markov"
	"github.com/CTAG07/coil/pkg/store"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func printModels(w io.Writer, models []store.ModelInfo) {
	var data [][]string
	for _, m := range models {
		data = append(data, []string{
			m.Name,
			strconv.Itoa(m.Depth),
			humanize.Comma(int64(m.VocabSize)),
			humanize.Comma(int64(m.RootWeight)),
			humanize.Bytes(uint64(m.Size)),
			humanize.RelTime(m.UpdatedAt, time.Now(), "ago", "from now"),
		})
	}

	table := newTable(w, []string{"NAME", "DEPTH", "VOCAB", "TOKENS", "SIZE", "MODIFIED"})
	table.AppendBulk(data)
	table.Render()
}

func printDBStats(w io.Writer, stats *store.DBStats) {
	printModels(w, stats.Models)
	fmt.Fprintf(w, "\n%s models, %s trained tokens, %s nodes, %s stored\n",
		humanize.Comma(int64(stats.ModelCount)),
		humanize.Comma(int64(stats.TotalTokens)),
		humanize.Comma(int64(stats.TotalNodes)),
		humanize.Bytes(uint64(stats.TotalSize)),
	)
}

func printStats(w io.Writer, name string, s markov.Stats) {
	levels := make([]string, len(s.LevelNodes))
	for i, n := range s.LevelNodes {
		levels[i] = humanize.Comma(int64(n))
	}

	table := newTable(w, []string{"PROPERTY", "VALUE"})
	table.AppendBulk([][]string{
		{"name", name},
		{"depth", strconv.Itoa(s.Depth)},
		{"vocabulary", humanize.Comma(int64(s.VocabSize))},
		{"tokens", humanize.Comma(int64(s.RootWeight))},
		{"nodes", humanize.Comma(int64(s.Nodes))},
		{"edges", humanize.Comma(int64(s.Edges))},
		{"leaves", humanize.Comma(int64(s.Leaves))},
		{"max fan-out", humanize.Comma(int64(s.MaxFanOut))},
		{"nodes per level", strings.Join(levels, " / ")},
	})
	table.Render()
}

// printPredictions lists the distribution heaviest first. Ties keep token
// order so the output is stable.
func printPredictions(w io.Writer, dist map[string]float64) {
	tokens := make([]string, 0, len(dist))
	for token := range dist {
		tokens = append(tokens, token)
	}
	slices.SortFunc(tokens, func(a, b string) int {
		if c := cmp.Compare(dist[b], dist[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	var data [][]string
	for _, token := range tokens {
		data = append(data, []string{token, strconv.FormatFloat(dist[token], 'f', 4, 64)})
	}

	table := newTable(w, []string{"TOKEN", "RATIO"})
	table.AppendBulk(data)
	table.Render()
}

// printTree dumps the trie one node per line, indented by level. Nodes deeper
// than maxLevel are elided; a negative maxLevel prints everything.
func printTree(w io.Writer, c *markov.Chain, maxLevel int) error {
	vocab := c.Vocabulary()
	return c.Walk(func(path []int, n *markov.Node) error {
		if len(path) == 0 {
			fmt.Fprintf(w, "<root> (%d)\n", n.Weight())
		} else {
			token := vocab.TokenAt(path[len(path)-1])
			fmt.Fprintf(w, "%s%q (%d)\n", strings.Repeat("  ", len(path)), token, n.Weight())
		}
		if maxLevel >= 0 && len(path) >= maxLevel {
			return markov.SkipChildren
		}
		return nil
	})
}
