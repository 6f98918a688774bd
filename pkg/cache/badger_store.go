package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"site-auditor/pkg/extract"
	"site-auditor/pkg/log"
	"site-auditor/pkg/models"
	"site-auditor/pkg/utils"
)

const (
	metaKeyPrefix     = "meta:"
	staticKeyPrefix   = "static:"
	renderedKeyPrefix = "rendered:"
	cssKeyPrefix      = "css:"
)

// cssRecord is the stored shape of an entry's CSS artifacts.
type cssRecord struct {
	Inline       string   `json:"inline,omitempty"`
	ExternalURLs []string `json:"external_urls,omitempty"`
}

// BadgerStore implements Store on a single BadgerDB database. Keys are
// namespaced as <kind>:<site_id>:<entry_id>; content blobs are gzip
// compressed before storage, same as the filesystem backend.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
	now func() time.Time
}

// NewBadgerStore opens (creating if needed) the database under dbPath.
func NewBadgerStore(dbPath string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create cache directory %s: %v", utils.ErrCacheIO, dbPath, err)
	}

	logger.Infof("Initializing badger content cache at: %s", dbPath)

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Entries are full replacements, history is useless

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %v", utils.ErrCacheIO, dbPath, err)
	}

	logger.Info("Badger content cache initialized.")
	return &BadgerStore{db: db, log: logger, now: time.Now}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction
// conflicts. Concurrent MVCC transactions on overlapping keys can return
// badger.ErrConflict; these resolve in microseconds, so a tight retry loop
// is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrCacheIO, maxConflictRetries)
}

func entryKey(prefix, siteID, entryID string) []byte {
	return []byte(prefix + siteID + ":" + entryID)
}

// Put stores the page, replacing any previous entry for the URL. All pieces
// of the entry are written in one transaction, so readers never observe a
// partial entry.
func (s *BadgerStore) Put(site string, page *models.FetchedPage, persistCSS bool) error {
	if page == nil || !page.HasStatic() {
		return fmt.Errorf("%w: refusing to cache page without static content", utils.ErrCacheIO)
	}

	siteID := SiteID(site)
	entryID := EntryID(page.URL)

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

	metaBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", utils.ErrCacheIO, err)
	}

	staticBlob, err := compressString(page.StaticHTML)
	if err != nil {
		return err
	}
	var renderedBlob []byte
	if page.HasRendered() {
		renderedBlob, err = compressString(page.RenderedHTML)
		if err != nil {
			return err
		}
	}

	var cssBytes []byte
	if persistCSS && page.StaticDoc != nil {
		if record := buildCSSRecord(page); record != nil {
			cssBytes, err = json.Marshal(record)
			if err != nil {
				return fmt.Errorf("%w: encoding css record: %v", utils.ErrCacheIO, err)
			}
		}
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(metaKeyPrefix, siteID, entryID), metaBytes); err != nil {
			return err
		}
		if err := txn.Set(entryKey(staticKeyPrefix, siteID, entryID), staticBlob); err != nil {
			return err
		}
		renderedKey := entryKey(renderedKeyPrefix, siteID, entryID)
		if renderedBlob != nil {
			if err := txn.Set(renderedKey, renderedBlob); err != nil {
				return err
			}
		} else if err := deleteIfPresent(txn, renderedKey); err != nil {
			return err
		}
		cssKey := entryKey(cssKeyPrefix, siteID, entryID)
		if cssBytes != nil {
			return txn.Set(cssKey, cssBytes)
		}
		return deleteIfPresent(txn, cssKey)
	})
	if err != nil {
		return fmt.Errorf("%w: storing entry for '%s': %v", utils.ErrCacheIO, page.URL, err)
	}

	s.log.WithFields(logrus.Fields{"url": page.URL, "entry_id": entryID}).Debug("Cached page content")
	return nil
}

// deleteIfPresent removes a stale auxiliary key left by a previous richer
// entry (the replacement may lack a rendered snapshot or CSS artifacts).
func deleteIfPresent(txn *badger.Txn, key []byte) error {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return txn.Delete(key)
}

func buildCSSRecord(page *models.FetchedPage) *cssRecord {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}
	artifacts := extract.ExtractCSS(page.StaticDoc, base)
	if artifacts.Inline == "" && len(artifacts.ExternalURLs) == 0 {
		return nil
	}
	return &cssRecord{Inline: artifacts.Inline, ExternalURLs: artifacts.ExternalURLs}
}

// Get returns the cached page or (nil, nil) on miss; stale and corrupt
// entries are both misses, left in place.
func (s *BadgerStore) Get(site, pageURL string, maxAge time.Duration) (*models.FetchedPage, error) {
	siteID := SiteID(site)
	entryID := EntryID(pageURL)
	entryLog := s.log.WithFields(logrus.Fields{"url": pageURL, "entry_id": entryID})

	var page *models.FetchedPage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(metaKeyPrefix, siteID, entryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil // miss
		}
		if err != nil {
			return err
		}

		var entry models.CacheEntry
		corrupt := false
		err = item.Value(func(val []byte) error {
			if jsonErr := json.Unmarshal(val, &entry); jsonErr != nil {
				entryLog.Warnf("Corrupt cache metadata, treating as miss: %v", jsonErr)
				corrupt = true
			}
			return nil
		})
		if err != nil || corrupt {
			return err
		}

		if maxAge >= 0 {
			if age := s.now().Sub(entry.CachedAt); age > maxAge {
				entryLog.WithFields(logrus.Fields{"age": age, "max_age": maxAge}).Debug("Cache entry stale")
				return nil
			}
		}

		reconstructed, recErr := s.reconstruct(txn, siteID, entryID, &entry)
		if recErr != nil {
			entryLog.Warnf("Corrupt cache entry, treating as miss: %v", recErr)
			return nil
		}
		page = reconstructed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading entry for '%s': %v", utils.ErrCacheIO, pageURL, err)
	}
	return page, nil
}

func (s *BadgerStore) reconstruct(txn *badger.Txn, siteID, entryID string, entry *models.CacheEntry) (*models.FetchedPage, error) {
	if !entry.HasStatic {
		return nil, fmt.Errorf("%w: metadata claims no static content", utils.ErrCacheCorrupt)
	}

	staticHTML, err := readBlob(txn, entryKey(staticKeyPrefix, siteID, entryID))
	if err != nil {
		return nil, fmt.Errorf("%w: static blob: %v", utils.ErrCacheCorrupt, err)
	}

	page := &models.FetchedPage{
		URL:                   entry.URL,
		StatusCode:            entry.StatusCode,
		Headers:               entry.ResponseHeaders,
		StaticHTML:            staticHTML,
		StaticSize:            entry.StaticSize,
		RenderedSize:          entry.RenderedSize,
		StaticFetchDuration:   time.Duration(entry.StaticLoadTime * float64(time.Second)),
		RenderedFetchDuration: time.Duration(entry.RenderedLoadTime * float64(time.Second)),
		PerformanceMetrics:    entry.PerformanceMetrics,
		FetchedAt:             entry.CachedAt,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(staticHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing static blob: %v", utils.ErrCacheCorrupt, err)
	}
	page.StaticDoc = doc

	if entry.HasRendered {
		renderedHTML, err := readBlob(txn, entryKey(renderedKeyPrefix, siteID, entryID))
		if err != nil {
			return nil, fmt.Errorf("%w: rendered blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.RenderedHTML = renderedHTML
		renderedDoc, err := goquery.NewDocumentFromReader(strings.NewReader(renderedHTML))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing rendered blob: %v", utils.ErrCacheCorrupt, err)
		}
		page.RenderedDoc = renderedDoc
	}

	return page, nil
}

func readBlob(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	var html string
	err = item.Value(func(val []byte) error {
		decoded, decErr := decompressBytes(val)
		if decErr != nil {
			return decErr
		}
		html = decoded
		return nil
	})
	return html, err
}

// ListURLs enumerates the site namespace by scanning its metadata keys.
func (s *BadgerStore) ListURLs(site string) ([]string, error) {
	prefix := []byte(metaKeyPrefix + SiteID(site) + ":")
	var urls []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry models.CacheEntry
				if jsonErr := json.Unmarshal(val, &entry); jsonErr != nil {
					s.log.Warnf("Skipping corrupt cache entry %s: %v", string(it.Item().Key()), jsonErr)
					return nil
				}
				urls = append(urls, entry.URL)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing site entries: %v", utils.ErrCacheIO, err)
	}
	return urls, nil
}

// Stats totals entry counts, stored blob sizes, rendered/CSS coverage, and
// the cached-at age bounds for the site namespace. Metadata values are read
// for the timestamps; blob values contribute size only.
func (s *BadgerStore) Stats(site string) (SiteStats, error) {
	sitePart := SiteID(site) + ":"
	var stats SiteStats

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			kind, rest, found := strings.Cut(key, ":")
			if !found || !strings.HasPrefix(rest, sitePart) {
				continue
			}
			size := it.Item().ValueSize()
			stats.TotalBytes += size
			switch kind + ":" {
			case metaKeyPrefix:
				err := it.Item().Value(func(val []byte) error {
					var entry models.CacheEntry
					if jsonErr := json.Unmarshal(val, &entry); jsonErr != nil {
						s.log.Warnf("Skipping corrupt cache entry %s: %v", key, jsonErr)
						return nil
					}
					stats.EntryCount++
					if entry.HasRendered {
						stats.WithRenderedCount++
					}
					stats.observeCachedAt(entry.CachedAt)
					return nil
				})
				if err != nil {
					return err
				}
			case staticKeyPrefix:
				stats.StaticBytes += size
			case renderedKeyPrefix:
				stats.RenderedBytes += size
			case cssKeyPrefix:
				stats.WithCSSCount++
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%w: computing site stats: %v", utils.ErrCacheIO, err)
	}
	return stats, nil
}

// Clear deletes every key in the site namespace.
func (s *BadgerStore) Clear(site string) error {
	siteID := SiteID(site)
	prefixes := [][]byte{
		[]byte(metaKeyPrefix + siteID + ":"),
		[]byte(staticKeyPrefix + siteID + ":"),
		[]byte(renderedKeyPrefix + siteID + ":"),
		[]byte(cssKeyPrefix + siteID + ":"),
	}

	for _, prefix := range prefixes {
		// Collect keys under a read transaction, then delete
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: scanning site namespace: %v", utils.ErrCacheIO, err)
		}

		for _, key := range keys {
			if err := s.dbUpdate(func(txn *badger.Txn) error {
				return txn.Delete(key)
			}); err != nil {
				return fmt.Errorf("%w: deleting key %s: %v", utils.ErrCacheIO, string(key), err)
			}
		}
	}
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically.
// Should be run in a goroutine.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for {
				// Run GC while the value log is at least 50% reclaimable
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB GC goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close shuts down the database.
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing badger content cache...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing badger content cache: %v", err)
			return err
		}
	}
	return nil
}

func compressString(content string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(content)); err != nil {
		gz.Close()
		return nil, fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrCacheIO, err)
	}
	return buf.Bytes(), nil
}

func decompressBytes(blob []byte) (string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
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
