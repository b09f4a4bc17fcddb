package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	upsertResourceCypher = `
		MERGE (n:Resource {id: $id})
		SET n.resource_type = $resource_type, n.golden = $golden
	`

	upsertLinkCypher = `
		MERGE (g:Resource {id: $golden_id})
		SET g.golden = true
		MERGE (s:Resource {id: $source_id})
		SET s.resource_type = $source_type, s.golden = $source_golden
		MERGE (g)-[r:LINKED]->(s)
		SET r.match_outcome = $match_outcome, r.link_source = $link_source, r.version = $version
	`

	removeLinksCypher = `
		UNWIND $pairs AS pair
		MATCH (:Resource {id: pair.golden_id})-[r:LINKED]->(:Resource {id: pair.source_id})
		DELETE r
	`

	removeResourcesCypher = `
		UNWIND $ids AS id
		MATCH (n:Resource {id: id})
		DETACH DELETE n
	`
)

type writer interface {
	Write(ctx context.Context, statements ...Statement) error
}

// Projector keeps the graph in step with committed link changes. A nil Projector does nothing.
type Projector struct {
	graph  writer
	logger ectologger.Logger
}

// NewProjector creates a projector writing through client
func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{graph: client, logger: logger}
}

// ProjectGolden creates or refreshes the node of a golden record
func (p *Projector) ProjectGolden(ctx context.Context, golden *models.Resource) error {
	if p == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectGolden")
	defer span.End()

	return p.write(ctx, "Failed to project golden record", Statement{
		Cypher: upsertResourceCypher,
		Params: map[string]any{
			"id":            golden.ID,
			"resource_type": golden.ResourceType,
			"golden":        golden.MDMManaged,
		},
	})
}

// ProjectLink creates or refreshes a LINKED edge and both of its nodes
func (p *Projector) ProjectLink(ctx context.Context, link *models.Link) error {
	if p == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectLink")
	defer span.End()

	return p.write(ctx, "Failed to project link", Statement{
		Cypher: upsertLinkCypher,
		Params: map[string]any{
			"golden_id":     link.GoldenID,
			"source_id":     link.SourceID,
			"source_type":   link.SourceType,
			"source_golden": link.SourceGolden,
			"match_outcome": string(link.MatchOutcome),
			"link_source":   string(link.LinkSource),
			"version":       link.Version,
		},
	})
}

// RemoveLinks deletes the edges for keys
func (p *Projector) RemoveLinks(ctx context.Context, keys []models.LinkKey) error {
	if p == nil || len(keys) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.RemoveLinks")
	defer span.End()

	pairs := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, map[string]any{"golden_id": key.GoldenID, "source_id": key.SourceID})
	}

	return p.write(ctx, "Failed to remove links from graph", Statement{
		Cypher: removeLinksCypher,
		Params: map[string]any{"pairs": pairs},
	})
}

// RemoveResources deletes nodes and any edges still attached to them
func (p *Projector) RemoveResources(ctx context.Context, ids []string) error {
	if p == nil || len(ids) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.RemoveResources")
	defer span.End()

	return p.write(ctx, "Failed to remove resources from graph", Statement{
		Cypher: removeResourcesCypher,
		Params: map[string]any{"ids": ids},
	})
}

func (p *Projector) write(ctx context.Context, failure string, statements ...Statement) error {
	if err := p.graph.Write(ctx, statements...); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error(failure)
		return fmt.Errorf("graph projection failed: %w", err)
	}
	return nil
}
