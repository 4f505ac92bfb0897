package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/FrenchMajesty/tagger"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResponse(w io.Writer, resp tagger.Response) error {
	if jsonOutput {
		return printJSON(w, resp)
	}

	fmt.Fprintf(w, "strategy: %s\n", resp.Strategy)
	if resp.Caption != "" {
		fmt.Fprintf(w, "caption:  %s\n", resp.Caption)
	}
	if resp.Fallback {
		fmt.Fprintln(w, "fallback: true")
	}
	if resp.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", resp.Error)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTAG\tSCORE\tSOURCE")
	for i, tag := range resp.Tags {
		var score float32
		var source tagger.TagSource
		if i < len(resp.Scores) {
			score = resp.Scores[i]
		}
		if i < len(resp.Sources) {
			source = resp.Sources[i]
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", i+1, tag, score, source)
	}
	return tw.Flush()
}
