// Package store persists pose graph snapshots to a sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/spatialmath"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS nodes (
		run_id TEXT NOT NULL,
		node_id BIGINT NOT NULL,
		x DOUBLE, y DOUBLE, z DOUBLE,
		qw DOUBLE, qx DOUBLE, qy DOUBLE, qz DOUBLE,
		PRIMARY KEY (run_id, node_id),
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE TABLE IF NOT EXISTS edges (
		run_id TEXT NOT NULL,
		edge_id BIGINT NOT NULL,
		from_id BIGINT NOT NULL,
		to_id BIGINT NOT NULL,
		label TEXT NOT NULL,
		x DOUBLE, y DOUBLE, z DOUBLE,
		qw DOUBLE, qx DOUBLE, qy DOUBLE, qz DOUBLE,
		information TEXT,
		PRIMARY KEY (run_id, edge_id),
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
`

// ErrRunNotFound is returned by Load when no snapshot exists for the run id.
var ErrRunNotFound = errors.New("run not found")

// Store saves and loads pose graph snapshots keyed by run id.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening snapshot database %q", path)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating snapshot schema"), db.Close())
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// information is stored as a JSON object so readers outside Go can use it.
type information struct {
	N    int       `json:"n"`
	Data []float64 `json:"data"`
}

// Save writes every node and edge of g under runID in a single transaction.
func (s *Store) Save(ctx context.Context, runID string, g *posegraph.Graph) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning snapshot transaction")
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO runs (run_id) VALUES (?)`, runID); err != nil {
		return errors.Wrapf(err, "inserting run %s", runID)
	}
	for _, id := range g.NodeIDs() {
		pose, poseErr := g.CurrentPose(id)
		if poseErr != nil {
			return poseErr
		}
		pt, q := pose.Point(), pose.Orientation().Quaternion()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (run_id, node_id, x, y, z, qw, qx, qy, qz) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, int64(id), pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
		); err != nil {
			return errors.Wrapf(err, "inserting node %d", id)
		}
	}
	for _, e := range g.Edges() {
		var infoJSON []byte
		if e.Information != nil {
			n := e.Information.SymmetricDim()
			dense := mat.DenseCopyOf(e.Information)
			if infoJSON, err = json.Marshal(information{N: n, Data: dense.RawMatrix().Data}); err != nil {
				return errors.Wrapf(err, "encoding information of edge %d", e.ID)
			}
		}
		pt, q := e.Relative.Point(), e.Relative.Orientation().Quaternion()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO edges (run_id, edge_id, from_id, to_id, label, x, y, z, qw, qx, qy, qz, information)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, int64(e.ID), int64(e.From), int64(e.To), e.Label,
			pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag, string(infoJSON),
		); err != nil {
			return errors.Wrapf(err, "inserting edge %d", e.ID)
		}
	}
	return tx.Commit()
}

// Load rebuilds the graph saved under runID.
func (s *Store) Load(ctx context.Context, runID string) (*posegraph.Graph, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM runs WHERE run_id = ?`, runID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, err
	}

	g := posegraph.NewGraph()
	if err := s.loadNodes(ctx, runID, g); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, runID, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) loadNodes(ctx context.Context, runID string, g *posegraph.Graph) (err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, x, y, z, qw, qx, qy, qz FROM nodes WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return errors.Wrap(err, "querying nodes")
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var id int64
		var pt r3.Vector
		var q quat.Number
		if err := rows.Scan(&id, &pt.X, &pt.Y, &pt.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag); err != nil {
			return errors.Wrap(err, "scanning node")
		}
		if err := g.AddNode(posegraph.NodeID(id), spatialmath.NewPose(pt, spatialmath.NewOrientationFromQuaternion(q))); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) loadEdges(ctx context.Context, runID string, g *posegraph.Graph) (err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, label, x, y, z, qw, qx, qy, qz, information
		FROM edges WHERE run_id = ? ORDER BY edge_id`, runID)
	if err != nil {
		return errors.Wrap(err, "querying edges")
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var from, to int64
		var label, infoJSON string
		var pt r3.Vector
		var q quat.Number
		if err := rows.Scan(&from, &to, &label, &pt.X, &pt.Y, &pt.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag, &infoJSON); err != nil {
			return errors.Wrap(err, "scanning edge")
		}
		var info *mat.SymDense
		if infoJSON != "" {
			var decoded information
			if err := json.Unmarshal([]byte(infoJSON), &decoded); err != nil {
				return errors.Wrapf(err, "decoding information of edge %d -> %d", from, to)
			}
			info = mat.NewSymDense(decoded.N, decoded.Data)
		}
		rel := spatialmath.NewPose(pt, spatialmath.NewOrientationFromQuaternion(q))
		if _, err := g.AppendEdge(posegraph.NodeID(from), posegraph.NodeID(to), rel, info, label); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Runs returns the ids of every saved run, oldest first. created_at only has second
// resolution, so insertion order comes from the rowid.
func (s *Store) Runs(ctx context.Context) (ids []string, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
