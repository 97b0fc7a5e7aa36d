package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
)

type profileRow struct {
	DID             string `db:"did"`
	WhitelistText   string `db:"whitelist_text"`
	WhitelistURLs   string `db:"whitelist_urls"`
	WhitelistVector []byte `db:"whitelist_vector"`
	WhitelistDim    int    `db:"whitelist_dim"`
	BlacklistText   string `db:"blacklist_text"`
	BlacklistURLs   string `db:"blacklist_urls"`
	BlacklistVector []byte `db:"blacklist_vector"`
	BlacklistDim    int    `db:"blacklist_dim"`
	ModifiedAt      int64  `db:"modified_at"`
}

const selectProfile = `
	SELECT did, whitelist_text, whitelist_urls, whitelist_vector, whitelist_dim,
	       blacklist_text, blacklist_urls, blacklist_vector, blacklist_dim, modified_at
	FROM profiles`

// upsertList holds one statement per list kind so column names never come
// from input.
var upsertList = map[domain.ListKind]string{
	domain.Whitelist: `
		INSERT INTO profiles (did, whitelist_text, whitelist_urls, whitelist_vector, whitelist_dim, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			whitelist_text = excluded.whitelist_text,
			whitelist_urls = excluded.whitelist_urls,
			whitelist_vector = excluded.whitelist_vector,
			whitelist_dim = excluded.whitelist_dim,
			modified_at = excluded.modified_at`,
	domain.Blacklist: `
		INSERT INTO profiles (did, blacklist_text, blacklist_urls, blacklist_vector, blacklist_dim, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			blacklist_text = excluded.blacklist_text,
			blacklist_urls = excluded.blacklist_urls,
			blacklist_vector = excluded.blacklist_vector,
			blacklist_dim = excluded.blacklist_dim,
			modified_at = excluded.modified_at`,
}

func decodeList(text, urls string, blob []byte, dim int) (domain.ProfileList, error) {
	list := domain.ProfileList{Text: text}
	if urls != "" {
		if err := json.Unmarshal([]byte(urls), &list.URLs); err != nil {
			return list, fmt.Errorf("decode urls: %w", err)
		}
	}
	if dim > 0 {
		v, err := domain.DecodeVector(blob, dim)
		if err != nil {
			return list, err
		}
		list.Vector = v
	}
	return list, nil
}

func (r profileRow) toDomain() (domain.Profile, error) {
	p := domain.Profile{DID: r.DID, ModifiedAt: time.UnixMilli(r.ModifiedAt).UTC()}

	var err error
	if p.Whitelist, err = decodeList(r.WhitelistText, r.WhitelistURLs, r.WhitelistVector, r.WhitelistDim); err != nil {
		return p, fmt.Errorf("profile %s whitelist: %w", r.DID, err)
	}
	if p.Blacklist, err = decodeList(r.BlacklistText, r.BlacklistURLs, r.BlacklistVector, r.BlacklistDim); err != nil {
		return p, fmt.Errorf("profile %s blacklist: %w", r.DID, err)
	}
	return p, nil
}

// GetProfile returns the profile of did, or domain.ErrNotFound.
func (r *Repository) GetProfile(ctx context.Context, did string) (*domain.Profile, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row, selectProfile+` WHERE did = ?`, did)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", did, err)
	}

	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns every stored profile ordered by DID.
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, selectProfile+` ORDER BY did`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	profiles := make([]domain.Profile, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// UpsertProfileList replaces one list of a profile and stamps modifiedAt.
func (r *Repository) UpsertProfileList(ctx context.Context, did string, kind domain.ListKind, list domain.ProfileList, modifiedAt time.Time) error {
	query, ok := upsertList[kind]
	if !ok {
		return fmt.Errorf("unknown list kind %q", kind)
	}

	urls := list.URLs
	if urls == nil {
		urls = []string{}
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}

	var blob []byte
	if list.Vector.Dim() > 0 {
		blob = domain.EncodeVector(list.Vector)
	}

	if _, err := r.db.ExecContext(ctx, query,
		did, list.Text, string(urlsJSON), blob, list.Vector.Dim(), modifiedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert %s for %s: %w", kind, did, err)
	}
	return nil
}
