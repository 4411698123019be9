package controllers

import (
	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-gonic/gin"
)

// RoomController serves the lobby: public rooms and presence.
type RoomController struct {
	chat *services.ChatService
}

func NewRoomController(chat *services.ChatService) *RoomController {
	return &RoomController{chat: chat}
}

// GetPublicRoom godoc
// @Summary List public rooms
// @Description Returns every public room with its online count and newest message (null when empty)
// @Tags chat
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} Response{data=[]services.PublicRoom}
// @Failure 401 {object} ErrorResponse
// @Router /rpc/chat/getPublicRoom [post]
func (rc *RoomController) GetPublicRoom(c *gin.Context) {
	rooms, err := rc.chat.GetPublicRooms(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, get public room", rooms)
}

// JoinPublicRoom godoc
// @Summary Join a public room
// @Description Registers the user as present. An unknown room answers success=false.
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.JoinRoomInput true "Join"
// @Success 200 {object} Response{data=services.JoinResult}
// @Failure 400 {object} ErrorResponse
// @Router /rpc/chat/joinPublicRoom [post]
func (rc *RoomController) JoinPublicRoom(c *gin.Context) {
	var input services.JoinRoomInput
	if !bind(c, &input) {
		return
	}

	result, err := rc.chat.JoinRoom(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, join public room", result)
}

// LeavePublicRoom godoc
// @Summary Leave a public room
// @Description Removes the user's presence. Always succeeds.
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.LeaveRoomInput true "Leave"
// @Success 200 {object} Response{data=services.JoinResult}
// @Failure 400 {object} ErrorResponse
// @Router /rpc/chat/leavePublicRoom [post]
func (rc *RoomController) LeavePublicRoom(c *gin.Context) {
	var input services.LeaveRoomInput
	if !bind(c, &input) {
		return
	}
	respond(c, "Success, leave public room", rc.chat.LeaveRoom(c.Request.Context(), input))
}

// GetOnlineUsers godoc
// @Summary List users present in a room
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body IDInput true "Room ID"
// @Success 200 {object} Response{data=[]presence.Entry}
// @Failure 404 {object} ErrorResponse "Room not found"
// @Router /rpc/chat/getOnlineUsers [post]
func (rc *RoomController) GetOnlineUsers(c *gin.Context) {
	var input IDInput
	if !bind(c, &input) {
		return
	}

	members, err := rc.chat.OnlineMembers(c.Request.Context(), input.ID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, get online users", members)
}
