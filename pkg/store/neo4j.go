package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/docfuse/docfuse/pkg/types"
)

// Neo4jGraphStore implements GraphStore on a Neo4j database. Entities are
// keyed by lowercase name so the merge is idempotent regardless of casing
// or processing order.
type Neo4jGraphStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jGraphStore connects to a Neo4j instance.
func NewNeo4jGraphStore(uri, username, password, database string) (*Neo4jGraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jGraphStore{client: driver, database: database}, nil
}

func (s *Neo4jGraphStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func (s *Neo4jGraphStore) UpsertEntities(ctx context.Context, entities []*types.Entity, documentID string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	// Confidence is assigned last so the CASE guards on the other
	// properties still see the pre-merge value.
	const query = `
		MERGE (e:Entity {name_key: toLower($name)})
		ON CREATE SET
			e.id = $id,
			e.name = $name,
			e.type = $type,
			e.confidence = $confidence,
			e.source_unit_ids = $sources,
			e.merge_count = $merge_count,
			e.created_at = datetime()
		ON MATCH SET
			e.name = CASE WHEN $confidence > e.confidence THEN $name ELSE e.name END,
			e.type = CASE WHEN $confidence > e.confidence THEN $type ELSE e.type END,
			e.merge_count = e.merge_count + $merge_count,
			e.source_unit_ids = [x IN e.source_unit_ids WHERE NOT x IN $sources] + $sources,
			e.confidence = CASE WHEN $confidence > e.confidence THEN $confidence ELSE e.confidence END
		WITH e
		MERGE (d:Document {id: $document_id})
		MERGE (e)-[:MENTIONED_IN]->(d)`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range entities {
			mergeCount := e.MergeCount
			if mergeCount < 1 {
				mergeCount = 1
			}
			_, err := tx.Run(ctx, query, map[string]any{
				"id":          e.ID,
				"name":        e.Name,
				"type":        e.Type,
				"confidence":  e.Confidence,
				"sources":     e.SourceUnitIDs,
				"merge_count": mergeCount,
				"document_id": documentID,
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Neo4jGraphStore) UpsertRelations(ctx context.Context, relations []*types.Relation) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	const query = `
		MATCH (s:Entity {name_key: toLower($subject)})
		MATCH (o:Entity {name_key: toLower($object)})
		MERGE (s)-[r:RELATES {predicate: $predicate}]->(o)
		ON CREATE SET
			r.id = $id,
			r.confidence = $confidence,
			r.document_id = $document_id,
			r.source_unit_ids = $sources
		RETURN r.id`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, rel := range relations {
			res, err := tx.Run(ctx, query, map[string]any{
				"subject":     rel.SubjectName,
				"object":      rel.ObjectName,
				"predicate":   rel.Predicate,
				"id":          rel.ID,
				"confidence":  rel.Confidence,
				"document_id": rel.DocumentID,
				"sources":     rel.SourceUnitIDs,
			})
			if err != nil {
				return nil, err
			}
			// No row means an endpoint vanished between optimization and
			// the write; the relation is skipped, not fatal.
			if _, err := res.Single(ctx); err != nil {
				continue
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Neo4jGraphStore) DeleteByDocument(ctx context.Context, documentID string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		queries := []string{
			`MATCH ()-[r:RELATES {document_id: $id}]-() DELETE r`,
			`MATCH (e:Entity)-[m:MENTIONED_IN]->(d:Document {id: $id})
			 DELETE m
			 WITH DISTINCT e
			 WHERE NOT (e)-[:MENTIONED_IN]->(:Document)
			 DETACH DELETE e`,
			`MATCH (d:Document {id: $id}) DETACH DELETE d`,
		}
		for _, q := range queries {
			if _, err := tx.Run(ctx, q, map[string]any{"id": documentID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Neo4jGraphStore) FindEntity(ctx context.Context, name string) (*types.Entity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (e:Entity {name_key: toLower($name)}) RETURN e LIMIT 1`,
			map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, ErrNotFound
		}
		return record, nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := result.(*neo4j.Record)
	value, _ := record.Get("e")
	node, ok := value.(dbtype.Node)
	if !ok {
		return nil, ErrNotFound
	}
	return entityFromNode(node), nil
}

func (s *Neo4jGraphStore) SearchEntities(ctx context.Context, fragment string, limit int) ([]*types.Entity, error) {
	if limit <= 0 {
		limit = 20
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.name_key CONTAINS toLower($fragment)
			RETURN e
			ORDER BY e.confidence DESC
			LIMIT $limit`,
			map[string]any{"fragment": fragment, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	records := result.([]*neo4j.Record)
	entities := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		if value, ok := record.Get("e"); ok {
			if node, ok := value.(dbtype.Node); ok {
				entities = append(entities, entityFromNode(node))
			}
		}
	}
	return entities, nil
}

func (s *Neo4jGraphStore) Neighborhood(ctx context.Context, entityName string, maxHops, limit int) ([]*types.GraphPath, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 5 {
		maxHops = 5
	}
	if limit <= 0 {
		limit = 20
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	// Variable-length bounds cannot be parameterized; maxHops is clamped
	// above so the interpolation stays bounded.
	query := fmt.Sprintf(`
		MATCH path = (n:Entity {name_key: toLower($name)})-[:RELATES*1..%d]-(m:Entity)
		RETURN path
		LIMIT $limit`, maxHops)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"name": entityName, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	records := result.([]*neo4j.Record)
	paths := make([]*types.GraphPath, 0, len(records))
	for _, record := range records {
		value, ok := record.Get("path")
		if !ok {
			continue
		}
		p, ok := value.(dbtype.Path)
		if !ok {
			continue
		}
		paths = append(paths, graphPathFromDB(entityName, p))
	}
	return paths, nil
}

func (s *Neo4jGraphStore) Close() error {
	return s.client.Close(context.Background())
}

func entityFromNode(node dbtype.Node) *types.Entity {
	e := &types.Entity{}
	if v, ok := node.Props["id"].(string); ok {
		e.ID = v
	}
	if v, ok := node.Props["name"].(string); ok {
		e.Name = v
	}
	if v, ok := node.Props["type"].(string); ok {
		e.Type = v
	}
	if v, ok := node.Props["confidence"].(float64); ok {
		e.Confidence = v
	}
	if v, ok := node.Props["merge_count"].(int64); ok {
		e.MergeCount = int(v)
	}
	if v, ok := node.Props["source_unit_ids"].([]any); ok {
		for _, id := range v {
			if s, ok := id.(string); ok {
				e.SourceUnitIDs = append(e.SourceUnitIDs, s)
			}
		}
	}
	return e
}

func graphPathFromDB(seed string, p dbtype.Path) *types.GraphPath {
	path := &types.GraphPath{
		SeedEntity: seed,
		Hops:       len(p.Relationships),
	}

	byElementID := make(map[string]dbtype.Node, len(p.Nodes))
	var confidence float64
	for _, node := range p.Nodes {
		byElementID[node.ElementId] = node
		if hasLabel(node, "Entity") {
			path.Nodes = append(path.Nodes, *entityFromNode(node))
		}
	}
	for _, rel := range p.Relationships {
		r := types.Relation{Predicate: rel.Type}
		if n, ok := byElementID[rel.StartElementId]; ok {
			r.SubjectName = entityFromNode(n).Name
		}
		if n, ok := byElementID[rel.EndElementId]; ok {
			r.ObjectName = entityFromNode(n).Name
		}
		if v, ok := rel.Props["predicate"].(string); ok {
			r.Predicate = v
		}
		if v, ok := rel.Props["confidence"].(float64); ok {
			r.Confidence = v
			confidence += v
		}
		if v, ok := rel.Props["document_id"].(string); ok {
			r.DocumentID = v
		}
		path.Relations = append(path.Relations, r)
	}

	if len(path.Relations) > 0 {
		// Average edge confidence decays with path length.
		path.Relevance = confidence / float64(len(path.Relations)) / float64(path.Hops)
	}
	return path
}

func hasLabel(node dbtype.Node, label string) bool {
	for _, l := range node.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
