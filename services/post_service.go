package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/repository"
)

type PostStore interface {
	List(ctx context.Context) ([]models.Post, error)
	Get(ctx context.Context, id uint) (models.Post, error)
	Create(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post models.Post) (models.Post, error)
	Delete(ctx context.Context, id uint) (models.Post, error)
}

type CreatePostInput struct {
	Title     string `json:"title" binding:"required" example:"Hello"`
	Content   string `json:"content" binding:"required" example:"First post"`
	Published bool   `json:"published"`
}

type UpdatePostInput struct {
	ID        uint   `json:"id" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Content   string `json:"content" binding:"required"`
	Published bool   `json:"published"`
}

type PostService struct {
	posts PostStore
}

func NewPostService(posts PostStore) *PostService {
	return &PostService{posts: posts}
}

func postErr(id uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("post %d: %w", id, ErrPostNotFound)
	}
	return err
}

func (s *PostService) List(ctx context.Context) ([]models.Post, error) {
	return s.posts.List(ctx)
}

func (s *PostService) Get(ctx context.Context, id uint) (models.Post, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		return models.Post{}, postErr(id, err)
	}
	return post, nil
}

func (s *PostService) Create(ctx context.Context, in CreatePostInput) (models.Post, error) {
	post := models.Post{Title: in.Title, Content: in.Content, Published: in.Published}
	if err := s.posts.Create(ctx, &post); err != nil {
		return models.Post{}, err
	}
	return post, nil
}

func (s *PostService) Update(ctx context.Context, in UpdatePostInput) (models.Post, error) {
	post, err := s.posts.Update(ctx, models.Post{
		ID:        in.ID,
		Title:     in.Title,
		Content:   in.Content,
		Published: in.Published,
	})
	if err != nil {
		return models.Post{}, postErr(in.ID, err)
	}
	return post, nil
}

// Delete removes a post and returns it as it was before deletion.
func (s *PostService) Delete(ctx context.Context, id uint) (models.Post, error) {
	post, err := s.posts.Delete(ctx, id)
	if err != nil {
		return models.Post{}, postErr(id, err)
	}
	return post, nil
}
