package pkg

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
	"github.com/rs/zerolog"

	"golang.org/x/net/context"
)

const snapshotsCollection = "Snapshots"

// ArangoDB records produced timeline entries so past cycles can be inspected.
// It is an optional sink used by hosts; the refresh cycle never depends on it.
type ArangoDB struct {
	db driver.Database
}

// SnapshotDocument is the stored form of one TimelineEntry.
type SnapshotDocument struct {
	Key        string                 `json:"_key,omitempty"`
	Kind       string                 `json:"kind"`
	Country    string                 `json:"country"`
	Date       int64                  `json:"date"`
	ValidUntil int64                  `json:"validUntil"`
	IsDefault  bool                   `json:"isDefault"`
	Record     map[string]interface{} `json:"record"`
	Collection string                 `json:"collection"`
}

func ConnectToArango(endpoint, username, password, arangoCertificate, database string) (
	*ArangoDB,
	error,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tlsConfig := &tls.Config{}
	if arangoCertificate != "" {
		caCertificate, err := base64.StdEncoding.DecodeString(arangoCertificate)
		if err != nil {
			return nil, fmt.Errorf("failed decoding CA certificate: %w", err)
		}
		certpool := x509.NewCertPool()
		if success := certpool.AppendCertsFromPEM(caCertificate); !success {
			return nil, errors.New("invalid CA certificate")
		}
		tlsConfig.RootCAs = certpool
	}

	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{endpoint},
		TLSConfig: tlsConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed creating HTTP connection: %w", err)
	}

	c, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(username, password),
	})
	if err != nil {
		return nil, fmt.Errorf("failed creating driver connection: %w", err)
	}

	db, err := c.Database(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("failed getting database %q: %w", database, err)
	}

	return &ArangoDB{db}, nil
}

// NewSnapshotDocument converts entry into its stored form.
func NewSnapshotDocument(country string, entry TimelineEntry) SnapshotDocument {
	kind := KindFor(country)
	if entry.Record != nil {
		kind = entry.Record.Kind()
	}
	return SnapshotDocument{
		Key:        fmt.Sprintf("%s-%s-%d", kind, countryOrGlobal(country), entry.Date.Unix()),
		Kind:       string(kind),
		Country:    country,
		Date:       entry.Date.Unix(),
		ValidUntil: entry.ValidUntil().Unix(),
		IsDefault:  IsDefault(entry.Record),
		Record:     recordFields(entry.Record),
		Collection: snapshotsCollection,
	}
}

// RecordEntry stores entry as a new snapshot document.
func (graph *ArangoDB) RecordEntry(
	ctx context.Context,
	logger *zerolog.Logger,
	country string,
	entry TimelineEntry,
) error {
	col, err := graph.db.Collection(ctx, snapshotsCollection)
	if err != nil {
		logger.Err(err).Msg("An error occurred while trying to use Snapshots collection")
		return fmt.Errorf("failed getting %q collection: %w", snapshotsCollection, err)
	}

	doc := NewSnapshotDocument(country, entry)
	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		logger.Err(err).Str("key", doc.Key).Msg("An error occurred while trying to save snapshot")
		return fmt.Errorf("failed creating snapshot document: %w", err)
	}

	logger.Debug().Str("id", meta.ID.String()).Bool("default", doc.IsDefault).Msg("Saved snapshot successfully")
	return nil
}

// LatestSnapshots returns up to limit most recent snapshots for country,
// newest first. An empty country selects the general stats snapshots.
func (graph *ArangoDB) LatestSnapshots(
	ctx context.Context,
	country string,
	limit int,
) (snapshots []SnapshotDocument, err error) {
	query, bindVars := latestSnapshotsQuery(country, limit)
	cursor, err := graph.db.Query(driver.WithQueryCount(ctx), query, bindVars)
	if err != nil {
		return snapshots, fmt.Errorf("failed querying database: %w", err)
	}

	defer cursor.Close() // nolint: errcheck

	for {
		var doc SnapshotDocument
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		} else if err != nil {
			return snapshots, fmt.Errorf("failed reading document: %w", err)
		}

		snapshots = append(snapshots, doc)
	}

	return snapshots, nil
}

// DefaultHistoryLimit is used when a caller asks for a non-positive number of snapshots.
const DefaultHistoryLimit = 10

func latestSnapshotsQuery(country string, limit int) (string, map[string]interface{}) {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	query := fmt.Sprintf(
		"FOR s IN %s FILTER s.kind == @kind AND s.country == @country SORT s.date DESC LIMIT @limit RETURN s",
		snapshotsCollection,
	)
	return query, map[string]interface{}{
		"kind":    string(KindFor(country)),
		"country": country,
		"limit":   limit,
	}
}

func countryOrGlobal(country string) string {
	if country == "" {
		return "global"
	}
	return country
}

func recordFields(record StatusRecord) map[string]interface{} {
	if record == nil {
		return nil
	}
	return record.Fields()
}
