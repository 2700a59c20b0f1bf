package controller

import (
	"errors"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/internal/service"
	"oral_practice_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type QuestionController struct {
	QuestionService *service.QuestionService
}

func NewQuestionController(questionService *service.QuestionService) *QuestionController {
	return &QuestionController{QuestionService: questionService}
}

// ListForPractice godoc
// @Summary 获取练习题目
// @Description 学生端按模块获取启用中的题目
// @Tags 题库
// @Produce  json
// @Security ApiKeyAuth
// @Param   module query string false "模块类型" Enums(part_a, part_b, part_c)
// @Success 200 {object} util.Response{data=[]model.Question} "成功"
// @Router /api/questions [get]
func (c *QuestionController) ListForPractice(ctx *gin.Context) {
	module := model.ModuleType(ctx.Query("module"))

	questions, err := c.QuestionService.ListForPractice(module)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, questions)
}

// List godoc
// @Summary 题目管理列表
// @Description 教师端分页列出题目（含停用）
// @Tags 题库
// @Produce  json
// @Security ApiKeyAuth
// @Param   module query string false "模块类型"
// @Param   page   query int    false "页码"
// @Param   limit  query int    false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/admin/questions [get]
func (c *QuestionController) List(ctx *gin.Context) {
	module := model.ModuleType(ctx.Query("module"))
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	questions, total, err := c.QuestionService.List(module, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: questions, Total: total, Page: page, Limit: limit})
}

// swagger:model QuestionRequest
type QuestionRequest struct {
	Module        string `json:"module" binding:"required,oneof=part_a part_b part_c"`
	Title         string `json:"title"`
	Content       string `json:"content" binding:"required"`
	MediaURL      string `json:"mediaUrl"`
	PrepSeconds   int    `json:"prepSeconds"`
	AnswerSeconds int    `json:"answerSeconds"`
	Order         int    `json:"order"`
	Enabled       *bool  `json:"enabled"`
}

// Create godoc
// @Summary 新建题目
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body QuestionRequest true "题目内容"
// @Success 201 {object} util.Response{data=model.Question} "创建成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/admin/questions [post]
func (c *QuestionController) Create(ctx *gin.Context) {
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	q := &model.Question{
		Module:        model.ModuleType(req.Module),
		Title:         req.Title,
		Content:       req.Content,
		MediaURL:      req.MediaURL,
		PrepSeconds:   req.PrepSeconds,
		AnswerSeconds: req.AnswerSeconds,
		Order:         req.Order,
		Enabled:       true,
	}
	if req.Enabled != nil {
		q.Enabled = *req.Enabled
	}

	if err := c.QuestionService.Create(q); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// Update godoc
// @Summary 更新题目
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id   path int             true "题目ID"
// @Param   body body QuestionRequest true "题目内容"
// @Success 200 {object} util.Response{data=model.Question} "成功"
// @Failure 404 {object} util.Response "题目不存在"
// @Router /api/admin/questions/{id} [put]
func (c *QuestionController) Update(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}

	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	q, err := c.QuestionService.Get(uint(id))
	if err != nil {
		if errors.Is(err, util.ErrQuestionNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}

	q.Module = model.ModuleType(req.Module)
	q.Title = req.Title
	q.Content = req.Content
	q.MediaURL = req.MediaURL
	q.PrepSeconds = req.PrepSeconds
	q.AnswerSeconds = req.AnswerSeconds
	q.Order = req.Order
	if req.Enabled != nil {
		q.Enabled = *req.Enabled
	}

	if err := c.QuestionService.Update(q); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// Delete godoc
// @Summary 删除题目
// @Description 下线题目，历史练习记录不受影响
// @Tags 题库
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path int true "题目ID"
// @Success 200 {object} util.Response "成功"
// @Failure 404 {object} util.Response "题目不存在"
// @Router /api/admin/questions/{id} [delete]
func (c *QuestionController) Delete(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid question id")
		return
	}

	if err := c.QuestionService.Delete(uint(id)); err != nil {
		if errors.Is(err, util.ErrQuestionNotFound) {
			util.NotFound(ctx)
		} else {
			util.LogInternalError(ctx, err)
		}
		return
	}
	util.Success(ctx, nil)
}
