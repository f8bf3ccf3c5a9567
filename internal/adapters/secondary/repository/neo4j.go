package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jupiterclapton/friendgraph/internal/core/domain"
	"github.com/jupiterclapton/friendgraph/internal/core/ports"
)

var _ ports.Store = (*Neo4jRepo)(nil)

// Neo4jRepo stocke (:User {id, name}) et une relation FRIENDS_WITH par amitié.
// La relation est lue sans direction : seul le sens de création la distingue.
type Neo4jRepo struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jRepo(driver neo4j.DriverWithContext) *Neo4jRepo {
	return &Neo4jRepo{driver: driver}
}

// EnsureSchema crée les index pour que les lookups par ID soient O(1)
func (r *Neo4jRepo) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Contrainte d'unicité sur User.id (crée aussi un index)
		query := `CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`
		_, err := tx.Run(ctx, query, nil)
		return nil, err
	})
	return err
}

func (r *Neo4jRepo) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (u:User) RETURN u.id AS id, coalesce(u.name, '') AS name`, nil)
		if err != nil {
			return nil, err
		}

		var users []domain.UserRecord
		for res.Next(ctx) {
			u, err := userFromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		return users, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: list users: %w", err)
	}
	users, _ := result.([]domain.UserRecord)
	return users, nil
}

func (r *Neo4jRepo) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Match non orienté + a.id < b.id : chaque amitié sort une seule fois
		query := `
			MATCH (a:User)-[:FRIENDS_WITH]-(b:User)
			WHERE a.id < b.id
			RETURN DISTINCT a.id AS a, b.id AS b
		`
		res, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}

		var edges []domain.Edge
		for res.Next(ctx) {
			e, err := edgeFromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			edges = append(edges, e)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: list friendships: %w", err)
	}
	edges, _ := result.([]domain.Edge)
	return edges, nil
}

func (r *Neo4jRepo) Insert(ctx context.Context, a, b domain.UserID) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Pas de MERGE sur les noeuds : on ne crée pas d'utilisateurs ici.
		// La relation n'est créée que si aucune n'existe déjà, dans un sens ou dans l'autre.
		query := `
			MATCH (a:User {id: $a}), (b:User {id: $b})
			OPTIONAL MATCH (a)-[existing:FRIENDS_WITH]-(b)
			WITH a, b, count(existing) AS n
			FOREACH (_ IN CASE WHEN n = 0 THEN [1] ELSE [] END |
				CREATE (a)-[:FRIENDS_WITH {created_at: datetime()}]->(b))
			RETURN n = 0 AS created
		`
		res, err := tx.Run(ctx, query, map[string]any{"a": int64(a), "b": int64(b)})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %d or %d", domain.ErrUnknownUser, a, b)
		}
		created, _ := res.Record().Get("created")
		if ok, _ := created.(bool); !ok {
			return nil, domain.ErrAlreadyFriends
		}
		return nil, nil
	})
	return err
}

func (r *Neo4jRepo) Delete(ctx context.Context, a, b domain.UserID) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (a:User {id: $a})-[r:FRIENDS_WITH]-(b:User {id: $b})
			DELETE r
			RETURN count(r) AS deleted
		`
		res, err := tx.Run(ctx, query, map[string]any{"a": int64(a), "b": int64(b)})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		deleted, err := int64Field(rec, "deleted")
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, domain.ErrNotFriends
		}
		return nil, nil
	})
	return err
}

// UpsertUser sert au seed ; le service ne crée pas d'utilisateurs.
func (r *Neo4jRepo) UpsertUser(ctx context.Context, u domain.UserRecord) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MERGE (u:User {id: $id}) SET u.name = $name`,
			map[string]any{"id": int64(u.ID), "name": u.Name})
		return nil, err
	})
	return err
}

// userFromRecord lit une ligne (id, name). Un nom absent ou null devient "".
func userFromRecord(rec *neo4j.Record) (domain.UserRecord, error) {
	id, err := int64Field(rec, "id")
	if err != nil {
		return domain.UserRecord{}, err
	}
	name, _ := rec.Get("name")
	s, _ := name.(string)
	return domain.UserRecord{ID: domain.UserID(id), Name: s}, nil
}

func edgeFromRecord(rec *neo4j.Record) (domain.Edge, error) {
	a, err := int64Field(rec, "a")
	if err != nil {
		return domain.Edge{}, err
	}
	b, err := int64Field(rec, "b")
	if err != nil {
		return domain.Edge{}, err
	}
	return domain.Edge{A: domain.UserID(a), B: domain.UserID(b)}, nil
}

// int64Field : Neo4j renvoie les entiers Cypher en int64, null en nil.
func int64Field(rec *neo4j.Record, key string) (int64, error) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, fmt.Errorf("neo4j: missing field %q", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("neo4j: field %q is %T, want int64", key, v)
	}
	return n, nil
}
