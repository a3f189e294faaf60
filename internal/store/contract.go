package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// GetContract fetches the contract index entry for a lowercased address.
// Returns (ContractIndex{}, false, nil) when absent.
func (s *Store) GetContract(ctx context.Context, address string) (ContractIndex, bool, error) {
	const q = `
SELECT address, protocol, protocol_version, contract_type, contract_name, source_url, source_kb,
	confidence, chain_id, meta, updated_at
FROM contract_index WHERE address = $1`

	row := s.pool.QueryRow(ctx, q, strings.ToLower(address))
	ci, err := scanContract(row)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindDependency && isNoRows(err) {
			return ContractIndex{}, false, nil
		}
		return ContractIndex{}, false, err
	}
	return ci, true, nil
}

// UpsertContract writes a contract index entry, keeping whichever of the
// existing and incoming rows has the higher confidence; ties are broken in
// favor of the incoming (more recent) entry. This is the conflict-resolution
// rule auto-learn and manual writes both rely on.
func (s *Store) UpsertContract(ctx context.Context, ci ContractIndex) (ContractIndex, error) {
	meta, err := json.Marshal(ci.Meta)
	if err != nil {
		return ContractIndex{}, apperror.Validation("store.UpsertContract", err)
	}

	const q = `
INSERT INTO contract_index (address, protocol, protocol_version, contract_type, contract_name,
	source_url, source_kb, confidence, chain_id, meta, updated_at)
VALUES (lower($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (address) DO UPDATE SET
	protocol = EXCLUDED.protocol,
	protocol_version = EXCLUDED.protocol_version,
	contract_type = EXCLUDED.contract_type,
	contract_name = EXCLUDED.contract_name,
	source_url = EXCLUDED.source_url,
	source_kb = EXCLUDED.source_kb,
	confidence = EXCLUDED.confidence,
	chain_id = EXCLUDED.chain_id,
	meta = EXCLUDED.meta,
	updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.confidence >= contract_index.confidence
RETURNING address, protocol, protocol_version, contract_type, contract_name, source_url, source_kb,
	confidence, chain_id, meta, updated_at`

	row := s.pool.QueryRow(ctx, q, ci.Address, ci.Protocol, ci.ProtocolVersion, ci.ContractType,
		ci.ContractName, ci.SourceURL, ci.SourceKB, ci.Confidence, ci.ChainID, meta)
	updated, err := scanContract(row)
	if err != nil {
		if isNoRows(err) {
			// The existing row had strictly higher confidence and was kept
			// as-is; return it unchanged.
			existing, found, gErr := s.GetContract(ctx, ci.Address)
			if gErr != nil {
				return ContractIndex{}, gErr
			}
			if found {
				return existing, nil
			}
		}
		return ContractIndex{}, err
	}
	return updated, nil
}

type contractRow interface {
	Scan(dest ...any) error
}

func scanContract(row contractRow) (ContractIndex, error) {
	var ci ContractIndex
	var meta []byte
	if err := row.Scan(&ci.Address, &ci.Protocol, &ci.ProtocolVersion, &ci.ContractType, &ci.ContractName,
		&ci.SourceURL, &ci.SourceKB, &ci.Confidence, &ci.ChainID, &meta, &ci.UpdatedAt); err != nil {
		return ContractIndex{}, apperror.Dependency("store.scanContract", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ci.Meta); err != nil {
			return ContractIndex{}, apperror.Dependency("store.scanContract", err)
		}
	}
	return ci, nil
}

func isNoRows(err error) bool {
	var wrapped = err
	for wrapped != nil {
		if wrapped == pgx.ErrNoRows {
			return true
		}
		unwrapper, ok := wrapped.(interface{ Unwrap() error })
		if !ok {
			break
		}
		wrapped = unwrapper.Unwrap()
	}
	return false
}
