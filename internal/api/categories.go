package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"finance_ledger/internal/domain" // Importing domain models

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// CategoryRequest represents a create or rename category request
type CategoryRequest struct {
	Title string `json:"title" binding:"required,max=128"` // Unique title
}

// ListCategoriesHandler returns every category, newest first
func ListCategoriesHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		categories := []domain.Category{} // Serialize as [] when empty
		if err := db.WithContext(c.Request.Context()).Order("created_at desc").Order("id desc").Find(&categories).Error; err != nil {
			respondError(c, err, "List categories")
			return
		}
		c.JSON(http.StatusOK, categories)
	}
}

// CreateCategoryHandler creates a category with a unique title
func CreateCategoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		title, ok := bindCategoryTitle(c)
		if !ok {
			return
		}
		category := domain.Category{Title: title}
		if err := db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				c.JSON(http.StatusConflict, gin.H{"error": "Category with this title already exists"})
				return
			}
			respondError(c, err, "Create category")
			return
		}
		c.JSON(http.StatusCreated, category)
	}
}

// GetCategoryHandler returns a single category
func GetCategoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			respondValidation(c, FieldError{Field: "id", Message: "must be a positive integer"})
			return
		}
		var category domain.Category
		if err := db.WithContext(c.Request.Context()).First(&category, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
				return
			}
			respondError(c, err, "Get category")
			return
		}
		c.JSON(http.StatusOK, category)
	}
}

// UpdateCategoryHandler renames a category
func UpdateCategoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			respondValidation(c, FieldError{Field: "id", Message: "must be a positive integer"})
			return
		}
		title, ok := bindCategoryTitle(c)
		if !ok {
			return
		}
		var category domain.Category
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&category, id).Error; err != nil {
				return err
			}
			return tx.Model(&category).Update("title", title).Error
		})
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		case errors.Is(err, gorm.ErrDuplicatedKey):
			c.JSON(http.StatusConflict, gin.H{"error": "Category with this title already exists"})
		case err != nil:
			respondError(c, err, "Update category")
		default:
			c.JSON(http.StatusOK, category)
		}
	}
}

// DeleteCategoryHandler deletes a category. Its transactions become uncategorized;
// amounts and balances are untouched.
func DeleteCategoryHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			respondValidation(c, FieldError{Field: "id", Message: "must be a positive integer"})
			return
		}
		var detached, deleted int64
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&domain.Transaction{}).Where("category_id = ?", id).Update("category_id", nil)
			if result.Error != nil {
				return result.Error
			}
			detached = result.RowsAffected
			result = tx.Delete(&domain.Category{}, id)
			deleted = result.RowsAffected
			return result.Error
		})
		if err != nil {
			respondError(c, err, "Delete category")
			return
		}
		if deleted == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
			return
		}
		logrus.WithFields(logrus.Fields{
			"category_id":  id,
			"transactions": detached,
		}).Info("Category deleted")
		c.JSON(http.StatusOK, gin.H{"message": "Category deleted successfully"})
	}
}

// bindCategoryTitle binds the request body and returns the trimmed title
func bindCategoryTitle(c *gin.Context) (string, bool) {
	var req CategoryRequest // Bind JSON request to struct
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrors(err)...)
		return "", false
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		respondValidation(c, FieldError{Field: "title", Message: "is required"})
		return "", false
	}
	return title, true
}
