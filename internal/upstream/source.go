package upstream

import (
	"context"

	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/pkg/nuget"
)

// Source is the read-only upstream contract consumed by the package
// service. An empty answer means the upstream has nothing; implementations
// never surface transport errors to the caller.
type Source interface {
	ListVersions(ctx context.Context, id string) []*nuget.Version
	ListPackages(ctx context.Context, id string) []*model.Package
	DownloadOrNil(ctx context.Context, id string, version *nuget.Version) []byte
}
