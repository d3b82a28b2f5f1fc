package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	retry "github.com/avast/retry-go"

	"github.com/openclaw/openclaw/pkg/models"
)

// discover probes every extracted repo and dataset according to the
// discovery mode. Probe failures are recorded, never fatal.
func (c *Compiler) discover(ctx context.Context, entities *models.ExtractedEntities, mode models.DiscoveryMode, report *models.CompileReport) *models.DiscoveryReport {
	out := &models.DiscoveryReport{
		Mode:     mode,
		Repos:    []models.RepoDiscovery{},
		Datasets: []models.DatasetDiscovery{},
	}

	for _, repo := range entities.Repos {
		rd := models.RepoDiscovery{URL: repo.URL}
		if mode != models.DiscoveryOff {
			rd = c.probeGitHub(ctx, repo)
			if rd.Error != "" {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("repo probe %s: %s", repo.URL, rd.Error))
			}
		}
		out.Repos = append(out.Repos, rd)
	}

	for _, ds := range entities.Datasets {
		dd := models.DatasetDiscovery{Ref: ds.Ref, Kind: ds.Kind}
		switch {
		case ds.Kind == models.DatasetKaggle:
			// Kaggle always needs credentials; defer to a manual-confirm item.
			dd.Deferred = true
		case ds.Kind == models.DatasetHuggingFace && mode == models.DiscoverySample:
			dd = c.probeHuggingFace(ctx, ds)
			if dd.Error != "" {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("dataset probe %s: %s", ds.Ref, dd.Error))
			}
		}
		out.Datasets = append(out.Datasets, dd)
	}
	return out
}

// probeGitHub asks the GitHub API whether the repo exists and for its
// default branch. Results are cached for the configured TTL.
func (c *Compiler) probeGitHub(ctx context.Context, repo models.ExtractedRepo) models.RepoDiscovery {
	cacheKey := "github:" + repo.Owner + "/" + repo.Name
	if cached, ok := c.probeCache.Get(cacheKey); ok {
		return cached.(models.RepoDiscovery)
	}

	rd := models.RepoDiscovery{URL: repo.URL}
	api := fmt.Sprintf("https://api.github.com/repos/%s/%s",
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name))

	var doc struct {
		DefaultBranch string `json:"default_branch"`
	}
	notFound, err := c.getJSON(ctx, api, c.githubHeaders(), &doc)
	switch {
	case notFound:
		rd.Exists = false
	case err == nil:
		rd.Exists = true
		rd.DefaultBranch = doc.DefaultBranch
	default:
		rd.Error = err.Error()
	}

	c.probeCache.SetDefault(cacheKey, rd)
	return rd
}

// probeHuggingFace fetches dataset info and, when available, the first rows
// of the first split.
func (c *Compiler) probeHuggingFace(ctx context.Context, ds models.ExtractedDataset) models.DatasetDiscovery {
	cacheKey := "hf:" + ds.Ref
	if cached, ok := c.probeCache.Get(cacheKey); ok {
		return cached.(models.DatasetDiscovery)
	}

	dd := models.DatasetDiscovery{Ref: ds.Ref, Kind: ds.Kind}

	var info struct {
		Siblings []struct {
			Rfilename string `json:"rfilename"`
		} `json:"siblings"`
		CardData struct {
			Splits any `json:"splits"`
		} `json:"cardData"`
	}
	notFound, err := c.getJSON(ctx, "https://huggingface.co/api/datasets/"+ds.Ref, nil, &info)
	switch {
	case notFound:
		c.probeCache.SetDefault(cacheKey, dd)
		return dd
	case err != nil:
		dd.Error = err.Error()
		c.probeCache.SetDefault(cacheKey, dd)
		return dd
	}
	dd.Exists = true

	var splits struct {
		Splits []struct {
			Split string `json:"split"`
		} `json:"splits"`
	}
	if _, err := c.getJSON(ctx,
		"https://datasets-server.huggingface.co/splits?dataset="+url.QueryEscape(ds.Ref),
		nil, &splits); err == nil {
		for _, s := range splits.Splits {
			dd.Splits = append(dd.Splits, s.Split)
		}
	}

	if len(dd.Splits) > 0 {
		var rows json.RawMessage
		if _, err := c.getJSON(ctx, fmt.Sprintf(
			"https://datasets-server.huggingface.co/first-rows?dataset=%s&config=default&split=%s",
			url.QueryEscape(ds.Ref), url.QueryEscape(dd.Splits[0])), nil, &rows); err == nil {
			dd.FirstRows = truncate(string(rows), 4096)
		}
	}

	c.probeCache.SetDefault(cacheKey, dd)
	return dd
}

// getJSON performs a GET with retries and decodes the body into dst. A 404
// is reported through notFound so callers can distinguish absence from
// transport failure.
func (c *Compiler) getJSON(ctx context.Context, rawURL string, headers map[string]string, dst any) (notFound bool, err error) {
	attempts := uint(c.cfg.ProbeRetries)
	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if reqErr != nil {
				return retry.Unrecoverable(reqErr)
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			resp, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return doErr
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				notFound = true
				return retry.Unrecoverable(fmt.Errorf("%s not found", rawURL))
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("status %d from %s", resp.StatusCode, rawURL))
			case resp.StatusCode >= 500:
				return fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
			}

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if readErr != nil {
				return readErr
			}
			if decErr := json.Unmarshal(body, dst); decErr != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s: %w", rawURL, decErr))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
	)
	return notFound, err
}

func (c *Compiler) githubHeaders() map[string]string {
	h := map[string]string{"Accept": "application/vnd.github+json"}
	if c.githubToken != "" {
		h["Authorization"] = "Bearer " + c.githubToken
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
