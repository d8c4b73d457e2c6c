package repository

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/common/db"
	"labyrinth/internal/maze"
	appErr "labyrinth/pkg/errors"
)

const (
	defaultMazeCacheTTL      = 10 * time.Minute
	defaultMazeCacheEmptyTTL = time.Minute
	mazeCacheKeyPrefix       = "maze:"
)

// MazeRecord is a maze row as stored in MySQL and Redis.
type MazeRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Difficulty string `json:"difficulty"`
	GridData   string `json:"grid_data"`
	IsActive   bool   `json:"is_active"`
}

// MazeRepository resolves mazes from MySQL through a Redis cache and falls
// back to the built-in catalog. Either store may be nil.
type MazeRepository struct {
	db       db.Database
	cache    cache.Store
	catalog  *maze.Catalog
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewMazeRepository creates a maze repository.
func NewMazeRepository(database db.Database, cacheClient cache.Store, catalog *maze.Catalog) *MazeRepository {
	if catalog == nil {
		catalog = maze.NewCatalog()
	}
	return &MazeRepository{
		db:       database,
		cache:    cacheClient,
		catalog:  catalog,
		ttl:      defaultMazeCacheTTL,
		emptyTTL: defaultMazeCacheEmptyTTL,
	}
}

// Get returns the active maze with id.
func (r *MazeRepository) Get(ctx context.Context, id string) (*maze.Definition, error) {
	if id == "" {
		return nil, appErr.ValidationError("maze_id", "required")
	}
	rec, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if def, ok := r.catalog.Get(id); ok {
			return def, nil
		}
		return nil, appErr.New(appErr.MazeNotFound).WithDetail("maze_id", id)
	}
	if !rec.IsActive {
		return nil, appErr.New(appErr.MazeInactive).WithDetail("maze_id", id)
	}
	return rec.definition()
}

// List returns active stored mazes plus built-ins they do not shadow, by id.
func (r *MazeRepository) List(ctx context.Context) ([]maze.Info, error) {
	byID := make(map[string]maze.Info)
	for _, info := range r.catalog.List() {
		byID[info.ID] = info
	}
	if r.db != nil {
		rows, err := r.db.Query(ctx, "SELECT maze_id, name, difficulty, grid_data, is_active FROM mazes WHERE is_active = 1")
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "list mazes failed")
		}
		defer rows.Close()
		for rows.Next() {
			var rec MazeRecord
			if err := rows.Scan(&rec.ID, &rec.Name, &rec.Difficulty, &rec.GridData, &rec.IsActive); err != nil {
				return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan maze failed")
			}
			def, err := rec.definition()
			if err != nil {
				continue
			}
			byID[def.ID] = def.Info()
		}
		if err := rows.Err(); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "list mazes failed")
		}
	}
	out := make([]maze.Info, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MazeRepository) load(ctx context.Context, id string) (*MazeRecord, error) {
	if r.db == nil {
		return nil, nil
	}
	if r.cache == nil {
		return r.loadFromDB(ctx, id)
	}
	return cache.GetWithCached[*MazeRecord](
		ctx,
		r.cache,
		mazeCacheKeyPrefix+id,
		r.ttl,
		r.emptyTTL,
		func(rec *MazeRecord) bool { return rec == nil },
		marshalMaze,
		unmarshalMaze,
		func(ctx context.Context) (*MazeRecord, error) {
			return r.loadFromDB(ctx, id)
		},
	)
}

func (r *MazeRepository) loadFromDB(ctx context.Context, id string) (*MazeRecord, error) {
	row := r.db.QueryRow(ctx, "SELECT maze_id, name, difficulty, grid_data, is_active FROM mazes WHERE maze_id = ? LIMIT 1", id)
	rec := &MazeRecord{}
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Difficulty, &rec.GridData, &rec.IsActive); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load maze failed")
	}
	return rec, nil
}

func (rec *MazeRecord) definition() (*maze.Definition, error) {
	difficulty, err := maze.ParseDifficulty(rec.Difficulty)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.MazeInvalid, "maze %s has bad difficulty", rec.ID)
	}
	def, err := maze.Parse(rec.GridData, rec.Name, difficulty)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.MazeInvalid, "maze %s is invalid", rec.ID)
	}
	def.ID = rec.ID
	return def, nil
}

func marshalMaze(rec *MazeRecord) string {
	if rec == nil {
		return ""
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalMaze(data string) (*MazeRecord, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var rec MazeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
