// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package detect

import (
	"context"
	"net"

	"github.com/oschwald/geoip2-golang"

	"aegis.dev/aegis/internal/record"
)

// CountryRisk looks up a per-country risk score in [0,1] for an ISO
// country code; codes absent from the table default to 0 (no opinion).
type CountryRisk map[string]float64

// GeoReputationDetector scores a FeatureVector by the country-risk of
// fv.Context.SrcAddr, resolved through a MaxMind GeoLite2 Country
// database. Only the country is looked up; ASN is not scored.
// Unresolvable or private addresses score 0.
type GeoReputationDetector struct {
	id   string
	db   *geoip2.Reader
	risk CountryRisk
}

// NewGeoReputationDetector opens the MaxMind database at dbPath and
// pairs it with a country-risk table.
func NewGeoReputationDetector(id, dbPath string, risk CountryRisk) (*GeoReputationDetector, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if risk == nil {
		risk = CountryRisk{}
	}
	return &GeoReputationDetector{id: id, db: db, risk: risk}, nil
}

// Close releases the underlying MaxMind database handle.
func (d *GeoReputationDetector) Close() error { return d.db.Close() }

func (d *GeoReputationDetector) ID() string { return d.id }

// Predict resolves fv.Context.SrcAddr to a country and looks up its
// configured risk score. A lookup failure is a recoverable detector
// error, not a fatal one — the ensemble redistributes this detector's
// weight for the affected FeatureVector.
func (d *GeoReputationDetector) Predict(_ context.Context, fv record.FeatureVector) (record.DetectorVerdict, error) {
	addr := fv.Context.SrcAddr
	if addr == "" {
		return record.DetectorVerdict{DetectorID: d.id, Score: 0, Label: "benign"}, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return record.DetectorVerdict{}, ErrDetectorError
	}
	if ip.IsPrivate() || ip.IsLoopback() {
		return record.DetectorVerdict{DetectorID: d.id, Score: 0, Label: "benign", Confidence: 1}, nil
	}

	country, err := d.db.Country(ip)
	if err != nil {
		return record.DetectorVerdict{}, ErrDetectorError
	}
	code := country.Country.IsoCode
	score := d.risk[code]
	label := "benign"
	if score >= 0.5 {
		label = "threat"
	}
	return record.DetectorVerdict{
		DetectorID: d.id,
		Score:      score,
		Label:      label,
		Confidence: 0.6,
		Contributions: []record.Contribution{
			{Feature: "geo:" + code, Weight: score},
		},
	}, nil
}
