package repository

import (
	"context"
	"fmt"

	"github.com/CUknot/chatroom_backend/models"
	"gorm.io/gorm"
)

type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// List returns every post, newest first.
func (r *PostRepository) List(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

func (r *PostRepository) Get(ctx context.Context, id uint) (models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return models.Post{}, translate(err)
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	post.ID = 0
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// Update overwrites the title, content and published flag of an existing
// post and returns the stored row.
func (r *PostRepository) Update(ctx context.Context, post models.Post) (models.Post, error) {
	var stored models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&stored, post.ID).Error; err != nil {
			return translate(err)
		}
		stored.Title = post.Title
		stored.Content = post.Content
		stored.Published = post.Published
		return tx.Save(&stored).Error
	})
	if err != nil {
		return models.Post{}, err
	}
	return stored, nil
}

// Delete removes the post and returns it as it was.
func (r *PostRepository) Delete(ctx context.Context, id uint) (models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return translate(err)
		}
		return tx.Delete(&models.Post{}, id).Error
	})
	if err != nil {
		return models.Post{}, err
	}
	return post, nil
}
