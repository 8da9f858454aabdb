package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/telemgate/internal/capture"
	"example.com/telemgate/internal/common"
	"example.com/telemgate/internal/dict"
	"example.com/telemgate/internal/report"
	"example.com/telemgate/internal/telem"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "catalog":
		catalogCmd(os.Args[2:])
	case "dict":
		dictCmd(os.Args[2:])
	case "convert":
		convertCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`telemctl %s (built %s) <command> [options]

Commands:
  decode   --in <capture> --dict <dictionary.json> [--out <samples.ndjson>] [--catalog <catalog.json>] [--pdf <catalog.pdf>] [--max-packet <bytes>] [--concurrency <n>] [--metrics] [--progress]
  catalog  --samples <samples.ndjson> --out <catalog.json> [--pdf <catalog.pdf>]
  dict     <verify|info> --in <dictionary.json>
  convert  --in <capture> --out <file> --format <ndjson|cbor> [--zstd]
`, version, buildDate)
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "input capture (NDJSON or CBOR, optionally zstd)")
	dictPath := fs.String("dict", "", "dictionary JSON file")
	out := fs.String("out", "samples.ndjson", "decoded samples output")
	catalogOut := fs.String("catalog", "", "unique message catalog output (json)")
	pdfOut := fs.String("pdf", "", "catalog report output (pdf)")
	maxPacket := fs.Int("max-packet", telem.DefaultMaxPacketBytes, "maximum packet size in bytes")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "maximum concurrent decode workers")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	fs.Parse(args)

	if *in == "" || *dictPath == "" {
		fmt.Println("required: --in, --dict")
		os.Exit(1)
	}

	tree, err := dict.EnsureLoaded(*dictPath)
	if err != nil {
		fmt.Println("load dictionary:", err)
		os.Exit(1)
	}

	rows, err := capture.ReadFile(*in)
	if err != nil {
		fmt.Println("read capture:", err)
		os.Exit(1)
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}

	if metrics != nil {
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	samples := telem.TransformParallel(tree, rows, *maxPacket, *concurrency, metrics)
	samples, catalog := telem.Summarize(samples)
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}

	if err := report.WriteSamplesNDJSON(*out, samples); err != nil {
		fmt.Println("write samples:", err)
		os.Exit(1)
	}
	fmt.Printf("rows=%d samples=%d messages=%d\n", len(rows), len(samples), len(catalog))

	if *catalogOut != "" || *pdfOut != "" {
		doc := report.CatalogDocument{
			Dictionary: *dictPath,
			Digest:     tree.Digest(),
			Rows:       int64(len(rows)),
			Samples:    int64(len(samples)),
			Messages:   catalog,
		}
		if *catalogOut != "" {
			if err := report.SaveCatalogJSON(doc, *catalogOut); err != nil {
				fmt.Println("write catalog:", err)
				os.Exit(1)
			}
			fmt.Println("Wrote", *catalogOut)
		}
		if *pdfOut != "" {
			if err := report.SaveCatalogPDF(doc, *pdfOut); err != nil {
				fmt.Println("write pdf:", err)
				os.Exit(1)
			}
			fmt.Println("Wrote PDF:", *pdfOut)
		}
	}

	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		throughputBps := snap.ThroughputBytesPerSecond()
		mbPerSec := throughputBps / 1_000_000
		fmt.Printf("Metrics: duration=%s rows=%d skippedRows=%d skippedFields=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Rows,
			snap.SkippedRows,
			snap.SkippedFields,
			common.FormatBytes(snap.Bytes),
			mbPerSec,
		)
	}
}

func catalogCmd(args []string) {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	samplesPath := fs.String("samples", "", "decoded samples (ndjson)")
	out := fs.String("out", "catalog.json", "catalog output (json)")
	pdfOut := fs.String("pdf", "", "catalog report output (pdf)")
	fs.Parse(args)

	if *samplesPath == "" {
		fmt.Println("required: --samples")
		os.Exit(1)
	}
	samples, err := report.ReadSamplesNDJSON(*samplesPath)
	if err != nil {
		fmt.Println("read samples:", err)
		os.Exit(1)
	}
	samples, catalog := telem.Summarize(samples)
	doc := report.CatalogDocument{
		Samples:  int64(len(samples)),
		Messages: catalog,
	}
	if err := report.SaveCatalogJSON(doc, *out); err != nil {
		fmt.Println("write catalog:", err)
		os.Exit(1)
	}
	fmt.Printf("samples=%d messages=%d\n", len(samples), len(catalog))
	fmt.Println("Wrote", *out)
	if *pdfOut != "" {
		if err := report.SaveCatalogPDF(doc, *pdfOut); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote PDF:", *pdfOut)
	}
}

func dictCmd(args []string) {
	if len(args) == 0 {
		dictUsage()
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "verify":
		dictVerifyCmd(args[1:])
	case "info":
		dictInfoCmd(args[1:])
	default:
		fmt.Println("unknown dict subcommand")
		dictUsage()
		os.Exit(1)
	}
}

func dictUsage() {
	fmt.Println("dict commands:")
	fmt.Println("  verify --in <dictionary.json>")
	fmt.Println("  info   --in <dictionary.json>")
}

func dictVerifyCmd(args []string) {
	fs := flag.NewFlagSet("dict verify", flag.ExitOnError)
	in := fs.String("in", "", "dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	tree, err := dict.Load(*in)
	if err != nil {
		fmt.Println("verify dictionary:", err)
		os.Exit(1)
	}
	fmt.Println("Dictionary OK")
	fmt.Println("SHA256:", tree.Digest())
}

func dictInfoCmd(args []string) {
	fs := flag.NewFlagSet("dict info", flag.ExitOnError)
	in := fs.String("in", "", "dictionary JSON file")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	tree, err := dict.Load(*in)
	if err != nil {
		fmt.Println("load dictionary:", err)
		os.Exit(1)
	}
	fmt.Println("SHA256:", tree.Digest())
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tPREFIXES\tMESSAGES")
	for _, stat := range tree.Stats() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", stat.Family, stat.Prefixes, stat.Messages)
	}
	w.Flush()
}

func convertCmd(args []string) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "input capture (NDJSON or CBOR, optionally zstd)")
	out := fs.String("out", "", "output capture file")
	formatFlag := fs.String("format", "ndjson", "output format: ndjson or cbor")
	zstdFlag := fs.Bool("zstd", false, "compress output with zstd")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fmt.Println("required: --in, --out")
		os.Exit(1)
	}
	format, err := capture.ParseFormat(strings.ToLower(*formatFlag))
	if err != nil {
		fmt.Println("format:", err)
		os.Exit(1)
	}
	rows, err := capture.ReadFile(*in)
	if err != nil {
		fmt.Println("read capture:", err)
		os.Exit(1)
	}
	if err := capture.WriteFile(*out, rows, format, *zstdFlag); err != nil {
		fmt.Println("write capture:", err)
		os.Exit(1)
	}
	hash, size, err := common.Sha256OfFile(*out)
	if err != nil {
		fmt.Println("hash output:", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rows to %s (%s)\n", len(rows), *out, common.FormatBytes(size))
	fmt.Printf("SHA256: %s\n", hash)
}
