package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"site-auditor/pkg/extract"
	"site-auditor/pkg/models"
	"site-auditor/pkg/utils"
)

const (
	metadataFile     = "metadata.json"
	staticBlobFile   = "static.html.gz"
	renderedBlobFile = "rendered.html.gz"
	cssDir           = "css"
	inlineCSSFile    = "inline.css"
	externalCSSFile  = "external_urls.json"
	tmpPrefix        = "tmp-"
)

// FSStore is the filesystem content cache. Layout:
//
//	root/
//	  <site_id>/
//	    <entry_id>/
//	      metadata.json
//	      static.html.gz
//	      rendered.html.gz        (only when a rendered snapshot exists)
//	      css/inline.css          (only with persistCSS)
//	      css/external_urls.json  (only with persistCSS)
//
// Writes are staged in a tmp- sibling directory and committed by rename, so
// readers never observe a partially written entry.
type FSStore struct {
	root string
	log  *logrus.Entry
	now  func() time.Time
}

// NewFSStore creates (if needed) the cache root and returns the store.
func NewFSStore(root string, log *logrus.Entry) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache root %s: %v", utils.ErrCacheIO, root, err)
	}
	return &FSStore{root: root, log: log, now: time.Now}, nil
}

func (s *FSStore) siteDir(site string) string {
	return filepath.Join(s.root, SiteID(site))
}

func (s *FSStore) entryDir(site, pageURL string) string {
	return filepath.Join(s.siteDir(site), EntryID(pageURL))
}

// Put stores the page, replacing any existing entry for the same URL.
func (s *FSStore) Put(site string, page *models.FetchedPage, persistCSS bool) error {
	if page == nil || !page.HasStatic() {
		return fmt.Errorf("%w: refusing to cache page without static content", utils.ErrCacheIO)
	}

	siteDir := s.siteDir(site)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}

	entryID := EntryID(page.URL)
	stagingDir := filepath.Join(siteDir, tmpPrefix+entryID+"-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	defer os.RemoveAll(stagingDir) // no-op after successful rename

	entry := models.CacheEntry{
		URL:                page.URL,
		CachedAt:           page.FetchedAt,
		StatusCode:         page.StatusCode,
		ResponseHeaders:    page.Headers,
		StaticLoadTime:     page.StaticFetchDuration.Seconds(),
		RenderedLoadTime:   page.RenderedFetchDuration.Seconds(),
		PerformanceMetrics: page.PerformanceMetrics,
		HasStatic:          page.HasStatic(),
		HasRendered:        page.HasRendered(),
		StaticSize:         page.StaticSize,
		RenderedSize:       page.RenderedSize,
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = s.now()
	}

	metaBytes, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", utils.ErrCacheIO, err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, metadataFile), metaBytes, 0o644); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}

	if err := writeCompressed(filepath.Join(stagingDir, staticBlobFile), page.StaticHTML); err != nil {
		return err
	}
	if page.HasRendered() {
		if err := writeCompressed(filepath.Join(stagingDir, renderedBlobFile), page.RenderedHTML); err != nil {
			return err
		}
	}

	if persistCSS && page.StaticDoc != nil {
		if err := s.writeCSS(stagingDir, page); err != nil {
			return err
		}
	}

	finalDir := filepath.Join(siteDir, entryID)
	if err := os.RemoveAll(finalDir); err != nil {
		return fmt.Errorf("%w: removing previous entry: %v", utils.ErrCacheIO, err)
	}
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return fmt.Errorf("%w: committing entry: %v", utils.ErrCacheIO, err)
	}

	s.log.WithFields(logrus.Fields{"url": page.URL, "entry_id": entryID}).Debug("Cached page content")
	return nil
}

func (s *FSStore) writeCSS(stagingDir string, page *models.FetchedPage) error {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil // unparseable page URL already survived fetch; skip CSS only
	}
	artifacts := extract.ExtractCSS(page.StaticDoc, base)
	if artifacts.Inline == "" && len(artifacts.ExternalURLs) == 0 {
		return nil
	}

	dir := filepath.Join(stagingDir, cssDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	if artifacts.Inline != "" {
		if err := os.WriteFile(filepath.Join(dir, inlineCSSFile), []byte(artifacts.Inline), 0o644); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
		}
	}
	if len(artifacts.ExternalURLs) > 0 {
		urlsJSON, err := json.MarshalIndent(artifacts.ExternalURLs, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
		}
		if err := os.WriteFile(filepath.Join(dir, externalCSSFile), urlsJSON, 0o644); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
		}
	}
	return nil
}

// Get returns the cached page or (nil, nil) on miss. A stale entry is a miss
// and stays on disk; a corrupt entry is logged and reported as a miss.
func (s *FSStore) Get(site, pageURL string, maxAge time.Duration) (*models.FetchedPage, error) {
	entryDir := s.entryDir(site, pageURL)
	entryLog := s.log.WithFields(logrus.Fields{"url": pageURL, "entry_dir": entryDir})

	metaBytes, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(metaBytes, &entry); err != nil {
		entryLog.Warnf("Corrupt cache metadata, treating as miss: %v", err)
		return nil, nil
	}

	if maxAge >= 0 {
		if age := s.now().Sub(entry.CachedAt); age > maxAge {
			entryLog.WithFields(logrus.Fields{"age": age, "max_age": maxAge}).Debug("Cache entry stale")
			return nil, nil
		}
	}

	page, err := s.reconstruct(entryDir, &entry)
	if err != nil {
		entryLog.Warnf("Corrupt cache entry, treating as miss: %v", err)
		return nil, nil
	}
	return page, nil
}

func (s *FSStore) reconstruct(entryDir string, entry *models.CacheEntry) (*models.FetchedPage, error) {
	page := &models.FetchedPage{
		URL:                   entry.URL,
		StatusCode:            entry.StatusCode,
		Headers:               entry.ResponseHeaders,
		StaticSize:            entry.StaticSize,
		RenderedSize:          entry.RenderedSize,
		StaticFetchDuration:   time.Duration(entry.StaticLoadTime * float64(time.Second)),
		RenderedFetchDuration: time.Duration(entry.RenderedLoadTime * float64(time.Second)),
		PerformanceMetrics:    entry.PerformanceMetrics,
		FetchedAt:             entry.CachedAt,
	}

	if entry.HasStatic {
		html, err := readCompressed(filepath.Join(entryDir, staticBlobFile))
		if err != nil {
			return nil, fmt.Errorf("%w: static blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.StaticHTML = html
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing static blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.StaticDoc = doc
	} else {
		return nil, fmt.Errorf("%w: metadata claims no static content", utils.ErrCacheCorrupt)
	}

	if entry.HasRendered {
		html, err := readCompressed(filepath.Join(entryDir, renderedBlobFile))
		if err != nil {
			return nil, fmt.Errorf("%w: rendered blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.RenderedHTML = html
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing rendered blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.RenderedDoc = doc
	}

	return page, nil
}

// ListURLs enumerates readable entries in the site namespace. Corrupt and
// in-flight (tmp-) entries are skipped.
func (s *FSStore) ListURLs(site string) ([]string, error) {
	siteDir := s.siteDir(site)
	dirEntries, err := os.ReadDir(siteDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}

	var urls []string
	for _, de := range dirEntries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		metaBytes, err := os.ReadFile(filepath.Join(siteDir, de.Name(), metadataFile))
		if err != nil {
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal(metaBytes, &entry); err != nil {
			s.log.Warnf("Skipping corrupt cache entry %s: %v", de.Name(), err)
			continue
		}
		urls = append(urls, entry.URL)
	}
	return urls, nil
}

// Stats walks the site namespace totalling entry counts, blob sizes,
// rendered/CSS coverage, and the cached-at age bounds. Entries with
// unreadable metadata are excluded, matching ListURLs.
func (s *FSStore) Stats(site string) (SiteStats, error) {
	var stats SiteStats
	siteDir := s.siteDir(site)

	dirEntries, err := os.ReadDir(siteDir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}

	for _, de := range dirEntries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), tmpPrefix) {
			continue
		}
		entryDir := filepath.Join(siteDir, de.Name())

		metaBytes, err := os.ReadFile(filepath.Join(entryDir, metadataFile))
		if err != nil {
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal(metaBytes, &entry); err != nil {
			s.log.Warnf("Skipping corrupt cache entry %s: %v", de.Name(), err)
			continue
		}

		stats.EntryCount++
		if entry.HasRendered {
			stats.WithRenderedCount++
		}
		stats.observeCachedAt(entry.CachedAt)

		if info, err := os.Stat(filepath.Join(entryDir, cssDir)); err == nil && info.IsDir() {
			stats.WithCSSCount++
		}

		filepath.Walk(entryDir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			stats.TotalBytes += info.Size()
			switch info.Name() {
			case staticBlobFile:
				stats.StaticBytes += info.Size()
			case renderedBlobFile:
				stats.RenderedBytes += info.Size()
			}
			return nil
		})
	}
	return stats, nil
}

// Clear removes the entire site namespace.
func (s *FSStore) Clear(site string) error {
	if err := os.RemoveAll(s.siteDir(site)); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	return nil
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error { return nil }

func writeCompressed(path, content string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		gz.Close()
		f.Close()
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	return nil
}

func readCompressed(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	content, err := io.ReadAll(gz)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
