package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"ironclad.dev/dpm/model"
)

// Neo4jGraph mirrors the dependency DAG as Activity nodes joined by
// PRECEDES relationships. The write path consults it for cycle detection
// before inserting an edge, and reporting uses the transitive queries.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraph(uri, username, password string) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	return &Neo4jGraph{driver: driver}, nil
}

func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// StoreDependency merges both activity nodes and the edge between them.
func (g *Neo4jGraph) StoreDependency(ctx context.Context, d *model.Dependency) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MERGE (p:Activity {id: $predId})
			SET p.programId = $programId
			MERGE (s:Activity {id: $succId})
			SET s.programId = $programId
			MERGE (p)-[r:PRECEDES]->(s)
			SET r.type = $type, r.lag = $lag
		`
		params := map[string]interface{}{
			"predId":    d.PredecessorID.String(),
			"succId":    d.SuccessorID.String(),
			"programId": d.ProgramID.String(),
			"type":      string(d.Type),
			"lag":       d.Lag,
		}
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (g *Neo4jGraph) DeleteDependencyEdge(ctx context.Context, predecessorID, successorID uuid.UUID) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (p:Activity {id: $predId})-[r:PRECEDES]->(s:Activity {id: $succId})
			DELETE r
		`
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"predId": predecessorID.String(),
			"succId": successorID.String(),
		})
		return nil, err
	})
	return err
}

// WouldCreateCycle reports whether a path already leads from the
// successor back to the predecessor, in which case the proposed edge
// closes a cycle.
func (g *Neo4jGraph) WouldCreateCycle(ctx context.Context, predecessorID, successorID uuid.UUID) (bool, error) {
	if predecessorID == successorID {
		return true, nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH path = (s:Activity {id: $succId})-[:PRECEDES*]->(p:Activity {id: $predId})
			RETURN count(path) > 0 AS hasCycle
		`
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"predId": predecessorID.String(),
			"succId": successorID.String(),
		})
		if err != nil {
			return false, err
		}
		if res.Next(ctx) {
			if v, ok := res.Record().Get("hasCycle"); ok {
				return v.(bool), nil
			}
		}
		return false, res.Err()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// GetAllPredecessors returns the transitive closure of activities that
// must precede the given one.
func (g *Neo4jGraph) GetAllPredecessors(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error) {
	return g.reachable(ctx, activityID, "<-[:PRECEDES*]-")
}

// GetAllSuccessors returns the transitive closure of activities that
// follow the given one.
func (g *Neo4jGraph) GetAllSuccessors(ctx context.Context, activityID uuid.UUID) ([]uuid.UUID, error) {
	return g.reachable(ctx, activityID, "-[:PRECEDES*]->")
}

func (g *Neo4jGraph) reachable(ctx context.Context, activityID uuid.UUID, pattern string) ([]uuid.UUID, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := fmt.Sprintf(`
			MATCH (a:Activity {id: $id})%s(other:Activity)
			RETURN DISTINCT other.id AS otherId
		`, pattern)
		res, err := tx.Run(ctx, query, map[string]interface{}{"id": activityID.String()})
		if err != nil {
			return nil, err
		}
		var ids []uuid.UUID
		for res.Next(ctx) {
			if v, ok := res.Record().Get("otherId"); ok {
				id, err := uuid.Parse(v.(string))
				if err != nil {
					return nil, fmt.Errorf("malformed activity id in graph: %w", err)
				}
				ids = append(ids, id)
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]uuid.UUID), nil
}

// DeleteProgramGraph drops every node belonging to the program.
func (g *Neo4jGraph) DeleteProgramGraph(ctx context.Context, programID uuid.UUID) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (a:Activity {programId: $programId})
			DETACH DELETE a
		`
		_, err := tx.Run(ctx, query, map[string]interface{}{"programId": programID.String()})
		return nil, err
	})
	return err
}

var _ DependencyGraphRepository = (*Neo4jGraph)(nil)
