package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"collabdir/internal/core"
)

const maxBodyBytes = 12 << 20

type adminRequest struct {
	Email string `json:"email" validate:"required"`
}

type addAdminRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type inviteRequest struct {
	Email      string `json:"email" validate:"required,email"`
	SenderName string `json:"sender_name"`
}

type uploadPictureRequest struct {
	Image     string `json:"image" validate:"required"`
	UserIndex string `json:"user_index"`
}

type deletePictureRequest struct {
	ImageURL string `json:"image_url" validate:"required"`
}

// bind decodes the JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler may continue.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			badRequest(c, fieldMessage(fields[0]))
			return false
		}
		badRequest(c, "Invalid request body")
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be an email address", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (h *Handler) checkAuthorization(c *gin.Context) {
	out, err := h.svc.CheckAuthorization(c.Request.Context(), principal(c))
	if err != nil {
		if core.Classify(err) == core.KindForbidden {
			c.AbortWithStatusJSON(http.StatusForbidden, out)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getUserDetails(c *gin.Context) {
	rec, err := h.svc.GetUserDetails(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) updateUserDetails(c *gin.Context) {
	var req core.UpdateRequest
	if !h.bind(c, &req) {
		return
	}
	rec, err := h.svc.UpdateUserDetails(c.Request.Context(), principal(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User details updated successfully", "user": rec})
}

func (h *Handler) deleteCollaborator(c *gin.Context) {
	var req core.DeleteRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.DeleteCollaborator(c.Request.Context(), principal(c), req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator deleted successfully"})
}

func (h *Handler) addCollaborator(c *gin.Context) {
	var req core.AddRequest
	if !h.bind(c, &req) {
		return
	}
	rec, err := h.svc.AddCollaborator(c.Request.Context(), principal(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Collaborator added successfully", "index": rec.Index, "user": rec})
}

func (h *Handler) listCollaborators(c *gin.Context) {
	rows, err := h.svc.ListCollaborators(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []core.DisplayRow{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) getUserByIndex(c *gin.Context) {
	rec, err := h.svc.GetUserByIndex(c.Request.Context(), principal(c), c.Query("index"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) currentUserRole(c *gin.Context) {
	out, err := h.svc.CurrentUserRole(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) sendInvite(c *gin.Context) {
	var req inviteRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.SendInvite(c.Request.Context(), principal(c), req.Email, req.SenderName); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invitation email sent successfully"})
}

func (h *Handler) uploadProfilePicture(c *gin.Context) {
	var req uploadPictureRequest
	if !h.bind(c, &req) {
		return
	}
	info, err := h.svc.UploadProfilePicture(c.Request.Context(), principal(c), req.Image, req.UserIndex)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image uploaded successfully", "url": info.URL})
}

func (h *Handler) deleteProfilePicture(c *gin.Context) {
	var req deletePictureRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.DeleteProfilePicture(c.Request.Context(), principal(c), req.ImageURL); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile picture deleted successfully"})
}

func (h *Handler) checkCollaboratorByEmail(c *gin.Context) {
	out, err := h.svc.CheckCollaboratorByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listAdmins(list core.AdminList) gin.HandlerFunc {
	return func(c *gin.Context) {
		admins, err := h.svc.ListAdmins(c.Request.Context(), principal(c), list)
		if err != nil {
			h.fail(c, err)
			return
		}
		if admins == nil {
			admins = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"admins": admins})
	}
}

func (h *Handler) addAdmin(list core.AdminList) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addAdminRequest
		if !h.bind(c, &req) {
			return
		}
		if err := h.svc.AddAdmin(c.Request.Context(), principal(c), list, req.Email); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Admin added successfully"})
	}
}

func (h *Handler) deleteAdmin(list core.AdminList) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adminRequest
		if !h.bind(c, &req) {
			return
		}
		if err := h.svc.DeleteAdmin(c.Request.Context(), principal(c), list, req.Email); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Admin deleted successfully"})
	}
}

func (h *Handler) checkAdminStatus(c *gin.Context) {
	out, err := h.svc.CheckAdminStatus(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) pisByCohort(c *gin.Context) {
	out, err := h.svc.PIsByCohort(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) downloadCSV(c *gin.Context) {
	raw, err := h.svc.ExportCSV(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="collaborators.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", raw)
}

func (h *Handler) submitDataRequest(c *gin.Context) {
	if h.submit != nil && !h.submit.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		badRequest(c, "Invalid request body")
		return
	}
	receipt, err := h.svc.SubmitDataRequest(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": receipt.Message, "filename": receipt.FileName})
}

func (h *Handler) listDataRequests(c *gin.Context) {
	out, err := h.svc.ListDataRequests(c.Request.Context(), principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == nil {
		out = []core.DataRequest{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getDataRequest(c *gin.Context) {
	out, err := h.svc.GetDataRequest(c.Request.Context(), principal(c), c.Param("filename"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
