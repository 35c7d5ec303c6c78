// Relationship helpers: secondary "edges between object keys" records
// stored as ordinary akey entries under a reserved "edges" dkey, rather
// than a separate index structure -- demonstrating that a higher-level
// collaborator builds on the plain engine API without the tree itself
// growing a secondary-index feature. Adapted from pkg/store/relationships.go,
// whose forward/reverse key convention and JSON payload this keeps.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ssargent/pmatree/pkg/btrtree"
	"github.com/ssargent/pmatree/pkg/classes/akey"
	"github.com/ssargent/pmatree/pkg/classes/singv"
	"github.com/ssargent/pmatree/pkg/stacker"
)

// edgesDkey is the fixed, unversioned dkey every relationship of a
// container lives under; relationEpoch is likewise fixed since an edge
// record is replaced in place, never versioned.
var edgesDkey = []byte("edges")

const relationEpoch = 0

// Relationship mirrors pkg/store.Relationship: a directed, typed edge
// between two entity keys, with an optional metadata bag.
type Relationship struct {
	FromKey   string                 `json:"from_key"`
	ToKey     string                 `json:"to_key"`
	Relation  string                 `json:"relation"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RelationshipQuery selects relationships by entity key, optionally
// narrowed to one relation type and one traversal direction.
type RelationshipQuery struct {
	Key       string
	Relation  string
	Direction string // "outgoing", "incoming", or "both"
	Limit     int
}

// RelationshipResult pairs a matched Relationship with the key on the
// other end of the edge and the direction it was found in.
type RelationshipResult struct {
	Relationship *Relationship
	OtherKey     string
	Direction    string
}

func makeRelationshipKey(direction, fromKey, relation, toKey string) string {
	safeFromKey := strings.ReplaceAll(fromKey, ":", "|")
	safeToKey := strings.ReplaceAll(toKey, ":", "|")
	return fmt.Sprintf("relationship:%s:%s:%s:%s", direction, safeFromKey, relation, safeToKey)
}

// PutRelationship records a directed edge between fromKey and toKey under
// containerID, storing both a forward and a reverse entry so an edge can be
// found from either end by matching a key prefix (GetRelationships walks the
// whole edges tree and filters it by that prefix).
func (s *Store) PutRelationship(containerID, fromKey, toKey, relation string) error {
	rel := &Relationship{FromKey: fromKey, ToKey: toKey, Relation: relation, CreatedAt: timeNow()}
	data, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("engine: marshal relationship: %w", err)
	}

	forwardKey := makeRelationshipKey("forward", fromKey, relation, toKey)
	if err := s.Put(containerID, "relationships", edgesDkey, 0, []byte(forwardKey), relationEpoch, 0, data); err != nil {
		return fmt.Errorf("engine: store forward relationship: %w", err)
	}

	reverseKey := makeRelationshipKey("reverse", toKey, relation, fromKey)
	if err := s.Put(containerID, "relationships", edgesDkey, 0, []byte(reverseKey), relationEpoch, 0, data); err != nil {
		return fmt.Errorf("engine: store reverse relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes both the forward and reverse entries for an
// edge; a missing entry on either side is not an error (matches
// pkg/store.KVStore.DeleteRelationship's tolerance of a half-deleted edge).
func (s *Store) DeleteRelationship(containerID, fromKey, toKey, relation string) error {
	forwardKey := makeRelationshipKey("forward", fromKey, relation, toKey)
	if err := s.Delete(containerID, "relationships", edgesDkey, 0, []byte(forwardKey), relationEpoch, 0); err != nil && !errors.Is(err, btrtree.ErrNotFound) {
		return fmt.Errorf("engine: delete forward relationship: %w", err)
	}

	reverseKey := makeRelationshipKey("reverse", toKey, relation, fromKey)
	if err := s.Delete(containerID, "relationships", edgesDkey, 0, []byte(reverseKey), relationEpoch, 0); err != nil && !errors.Is(err, btrtree.ErrNotFound) {
		return fmt.Errorf("engine: delete reverse relationship: %w", err)
	}
	return nil
}

// GetRelationships scans the edges akey tree for containerID, returning
// every entry whose key matches query's direction/relation prefix, up to
// query.Limit (100 if unset). A container with no relationships object yet
// yields an empty slice, not an error.
func (s *Store) GetRelationships(containerID string, query RelationshipQuery) ([]RelationshipResult, error) {
	limit := query.Limit
	if limit == 0 {
		limit = 100
	}

	var results []RelationshipResult
	visit := func(direction string) error {
		prefix := fmt.Sprintf("relationship:%s:%s", direction, strings.ReplaceAll(query.Key, ":", "|"))
		if query.Relation != "" {
			prefix += fmt.Sprintf(":%s", query.Relation)
		}
		return s.walkEdges(containerID, func(key string, data []byte) (bool, error) {
			if len(results) >= limit {
				return true, nil
			}
			if !strings.HasPrefix(key, prefix) {
				return false, nil
			}
			var rel Relationship
			if err := json.Unmarshal(data, &rel); err != nil {
				return false, nil // skip unparsable entries, matching the teacher's tolerant scan
			}
			other, dir := rel.ToKey, "outgoing"
			if direction == "reverse" {
				other, dir = rel.FromKey, "incoming"
			}
			results = append(results, RelationshipResult{Relationship: &rel, OtherKey: other, Direction: dir})
			return false, nil
		})
	}

	if query.Direction == "outgoing" || query.Direction == "both" {
		if err := visit("forward"); err != nil {
			return nil, err
		}
	}
	if query.Direction == "incoming" || query.Direction == "both" {
		if err := visit("reverse"); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// walkEdges opens containerID's edges akey tree (read-only) and calls fn
// with every edge key and the JSON stored in the singv value beneath it, in
// the akey tree's own (hashed) order; a container with no edges tree yet is
// treated as an empty scan, and an edge whose value was deleted is skipped.
func (s *Store) walkEdges(containerID string, fn func(key string, data []byte) (stop bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return fmt.Errorf("engine: store is not open")
	}

	tx := s.p.Begin()
	akeys, err := s.chain(tx, containerID, "relationships", edgesDkey, 0, false)
	tx.Abort()
	if errors.Is(err, btrtree.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer stacker.Release(akeys)

	_, err = akeys.Iterate(btrtree.OpFirst, nil, func(key, _ []byte) (bool, error) {
		singvs, _, err := stacker.Prepare(akeys, tx, akey.EncodeKey(key, relationEpoch), singv.ClassID, s.cfg.SingvOrder, false)
		if err == nil {
			defer stacker.Release(singvs)
			var value []byte
			if _, value, err = singvs.Fetch(btrtree.OpEQ, singv.EncodeKey(0)); err == nil {
				return fn(string(key), value)
			}
		}
		if errors.Is(err, btrtree.ErrNotFound) {
			return false, nil
		}
		return false, err
	})
	return err
}

// timeNow is a thin indirection over time.Now so relationship creation
// timestamps have one call site to adjust if a future caller needs to
// inject a clock (e.g. for deterministic tests).
func timeNow() time.Time { return time.Now() }
