package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/openclaw/pkg/credentials"
)

const datasetUsage = `usage: openclaw dataset <op> [args]

ops:
  sample <ref> --out dir [--rows n]        fetch a Hugging Face dataset sample
  fetch  --kind kaggle <ref> --out dir     download a Kaggle dataset (needs credentials)
`

// datasetClient bounds sample/fetch HTTP calls.
var datasetClient = &http.Client{Timeout: 5 * time.Minute}

func runDataset(args []string) {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, datasetUsage)
		os.Exit(1)
	}
	op, rest := args[0], args[1:]
	switch op {
	case "sample":
		datasetSample(rest)
	case "fetch":
		datasetFetch(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown dataset op %q\n\n%s", op, datasetUsage)
		os.Exit(1)
	}
}

// hfRef normalizes a Hugging Face dataset reference to "owner/name".
func hfRef(ref string) string {
	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")
	ref = strings.TrimPrefix(ref, "huggingface.co/datasets/")
	return strings.Trim(ref, "/")
}

func datasetSample(args []string) {
	ref, rest := positional(args, "ref")
	fs := newFlagSet("dataset sample")
	out := fs.String("out", ".", "output directory")
	rows := fs.Int("rows", 100, "rows to sample")
	parseFlags(fs, rest)

	creds := credentials.Resolve(os.Environ(), os.Getenv("OPENCLAW_STATE_DIR"))
	dataset := hfRef(ref)
	ctx := context.Background()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fatal("create %s: %v", *out, err)
	}

	headers := map[string]string{}
	if creds.HFToken != "" {
		headers["Authorization"] = "Bearer " + creds.HFToken
	}

	infoURL := "https://huggingface.co/api/datasets/" + dataset
	if err := fetchTo(ctx, infoURL, headers, filepath.Join(*out, "info.json")); err != nil {
		fatal("dataset info: %v", err)
	}

	splitsURL := "https://datasets-server.huggingface.co/splits?dataset=" + url.QueryEscape(dataset)
	if err := fetchTo(ctx, splitsURL, headers, filepath.Join(*out, "splits.json")); err != nil {
		fatal("dataset splits: %v", err)
	}

	rowsURL := fmt.Sprintf(
		"https://datasets-server.huggingface.co/first-rows?dataset=%s&config=default&split=train&length=%d",
		url.QueryEscape(dataset), *rows)
	if err := fetchTo(ctx, rowsURL, headers, filepath.Join(*out, "sample.json")); err != nil {
		fatal("dataset rows: %v", err)
	}

	fmt.Printf("sampled %s into %s\n", dataset, *out)
}

func datasetFetch(args []string) {
	fs := newFlagSet("dataset fetch")
	kind := fs.String("kind", "kaggle", "dataset source kind")
	out := fs.String("out", ".", "output directory")
	parseFlags(fs, args)
	if fs.NArg() < 1 {
		fatal("missing required argument <ref>")
	}
	ref := fs.Arg(0)

	if *kind != "kaggle" {
		fatal("unsupported dataset kind %q", *kind)
	}

	creds := credentials.Resolve(os.Environ(), os.Getenv("OPENCLAW_STATE_DIR"))
	if !creds.HasKaggle() {
		fatal("Kaggle credentials are not configured; set KAGGLE_USERNAME and KAGGLE_KEY")
	}

	slug := strings.TrimPrefix(strings.TrimPrefix(ref, "https://"), "www.kaggle.com/datasets/")
	slug = strings.TrimPrefix(slug, "kaggle.com/datasets/")
	slug = strings.Trim(slug, "/")
	if strings.Count(slug, "/") != 1 {
		fatal("kaggle dataset ref must be owner/dataset, got %q", ref)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fatal("create %s: %v", *out, err)
	}
	dest := filepath.Join(*out, strings.ReplaceAll(slug, "/", "-")+".zip")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"https://www.kaggle.com/api/v1/datasets/download/"+slug, nil)
	if err != nil {
		fatal("build request: %v", err)
	}
	req.SetBasicAuth(creds.KaggleUsername, creds.KaggleKey)

	resp, err := datasetClient.Do(req)
	if err != nil {
		fatal("download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatal("download: kaggle returned %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		fatal("create %s: %v", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		fatal("write %s: %v", dest, err)
	}
	fmt.Printf("downloaded %s to %s\n", slug, dest)
}

// fetchTo GETs a URL and writes the body to path.
func fetchTo(ctx context.Context, rawURL string, headers map[string]string, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := datasetClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", rawURL, resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, io.LimitReader(resp.Body, 64<<20))
	return err
}
