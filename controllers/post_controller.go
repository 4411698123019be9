package controllers

import (
	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-gonic/gin"
)

type PostController struct {
	posts *services.PostService
}

func NewPostController(posts *services.PostService) *PostController {
	return &PostController{posts: posts}
}

// ListPost godoc
// @Summary List posts
// @Tags post
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} Response{data=[]models.Post}
// @Router /rpc/post/listPost [post]
func (pc *PostController) ListPost(c *gin.Context) {
	posts, err := pc.posts.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, list post", posts)
}

// GetPost godoc
// @Summary Get a post
// @Tags post
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body IDInput true "Post ID"
// @Success 200 {object} Response{data=models.Post}
// @Failure 404 {object} ErrorResponse "Post not found"
// @Router /rpc/post/getPost [post]
func (pc *PostController) GetPost(c *gin.Context) {
	var input IDInput
	if !bind(c, &input) {
		return
	}
	post, err := pc.posts.Get(c.Request.Context(), input.ID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, get post", post)
}

// CreatePost godoc
// @Summary Create a post
// @Tags post
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.CreatePostInput true "Post"
// @Success 200 {object} Response{data=models.Post}
// @Failure 400 {object} ErrorResponse
// @Router /rpc/post/createPost [post]
func (pc *PostController) CreatePost(c *gin.Context) {
	var input services.CreatePostInput
	if !bind(c, &input) {
		return
	}
	post, err := pc.posts.Create(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, create post", post)
}

// UpdatePost godoc
// @Summary Update a post
// @Tags post
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.UpdatePostInput true "Post"
// @Success 200 {object} Response{data=models.Post}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse "Post not found"
// @Router /rpc/post/updatePost [post]
func (pc *PostController) UpdatePost(c *gin.Context) {
	var input services.UpdatePostInput
	if !bind(c, &input) {
		return
	}
	post, err := pc.posts.Update(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, update post", post)
}

// DeletePost godoc
// @Summary Delete a post
// @Tags post
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body IDInput true "Post ID"
// @Success 200 {object} Response{data=models.Post}
// @Failure 404 {object} ErrorResponse "Post not found"
// @Router /rpc/post/deletePost [post]
func (pc *PostController) DeletePost(c *gin.Context) {
	var input IDInput
	if !bind(c, &input) {
		return
	}
	post, err := pc.posts.Delete(c.Request.Context(), input.ID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, delete post", post)
}
