package port

import (
	"context"
	"errors"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/entity"
	"github.com/google/uuid"
)

// ErrJobNotFound is returned by FindByID when no job has the given id.
var ErrJobNotFound = errors.New("job not found")

// JobRepository persists keyframe jobs. Update writes the mutable columns
// only; identity and request fields are fixed at Create.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Update(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// JobFinder is the read side of JobRepository.
type JobFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}
