package metastore

import (
	"context"

	"github.com/nainya/metastore/pkg/registry"
)

// RegisterSchema binds prefix to the target namespace of schemaBody.
func (s *Service) RegisterSchema(ctx context.Context, prefix, schemaBody string) (string, registry.Outcome, error) {
	ns, outcome, err := s.registry.RegisterSchema(ctx, prefix, schemaBody)
	if err != nil {
		return "", 0, err
	}
	s.logger.Info().Str("prefix", prefix).Str("namespace", ns).Stringer("outcome", outcome).Msg("schema registration")
	return ns, outcome, nil
}

// GetSchema returns the schema bound to prefix.
func (s *Service) GetSchema(ctx context.Context, prefix string) (string, error) {
	ns, err := s.registry.ResolveNamespace(ctx, prefix)
	if err != nil {
		return "", err
	}
	return s.registry.GetSchema(ctx, ns)
}

// ListPrefixes returns every bound prefix in sorted order.
func (s *Service) ListPrefixes(ctx context.Context) ([]string, error) {
	return s.registry.ListPrefixes(ctx)
}
