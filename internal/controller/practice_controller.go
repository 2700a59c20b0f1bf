package controller

import (
	"errors"
	"io"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/internal/service"
	"oral_practice_backend/internal/util"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// 单个录音文件大小上限
const maxRecordingBytes = 25 << 20

type PracticeController struct {
	SubmissionService *service.SubmissionService
}

func NewPracticeController(submissionService *service.SubmissionService) *PracticeController {
	return &PracticeController{SubmissionService: submissionService}
}

// Submit godoc
// @Summary 提交练习作答
// @Description 以 multipart 形式提交一组录音（文件字段名为 question_{题目ID}），
// @Description 创建会话后立即返回会话ID，评分异步进行，客户端轮询状态接口获取进度。
// @Tags 练习
// @Accept  mpfd
// @Produce  json
// @Security ApiKeyAuth
// @Param   type formData string true "会话类型" Enums(part_a, part_b, part_c, simulation)
// @Success 202 {object} util.Response{data=object} "已受理"
// @Failure 400 {object} util.Response "请求参数错误"
// @Router /api/practice/sessions [post]
func (c *PracticeController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionType := model.SessionType(ctx.PostForm("type"))
	switch sessionType {
	case model.SessionPartA, model.SessionPartB, model.SessionPartC, model.SessionSimulation:
	default:
		util.BadRequest(ctx, "invalid session type")
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var answers []service.AnswerUpload
	for field, files := range form.File {
		if !strings.HasPrefix(field, "question_") || len(files) == 0 {
			continue
		}
		questionID, err := strconv.ParseUint(strings.TrimPrefix(field, "question_"), 10, 64)
		if err != nil {
			util.BadRequest(ctx, "invalid question field: "+field)
			return
		}

		header := files[0]
		if header.Size > maxRecordingBytes {
			util.BadRequest(ctx, "recording too large: "+header.Filename)
			return
		}
		f, err := header.Open()
		if err != nil {
			util.BadRequest(ctx, "cannot read recording: "+header.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			util.BadRequest(ctx, "cannot read recording: "+header.Filename)
			return
		}

		answers = append(answers, service.AnswerUpload{
			QuestionID:  uint(questionID),
			Data:        data,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		})
	}

	sessionID, err := c.SubmissionService.Submit(ctx.Request.Context(), claims.UserID, sessionType, answers)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrEmptySubmission),
			errors.Is(err, util.ErrBadSessionComposition),
			errors.Is(err, util.ErrQuestionNotFound):
			util.BadRequest(ctx, err.Error())
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Accepted(ctx, gin.H{"sessionId": sessionID})
}

// GetStatus godoc
// @Summary 查询会话处理状态
// @Description 轮询接口，返回会话状态、所处阶段及各题的部分结果
// @Tags 练习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=service.SessionStatusResponse} "成功"
// @Failure 404 {object} util.Response "会话不存在"
// @Router /api/practice/sessions/{id}/status [get]
func (c *PracticeController) GetStatus(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	status, err := c.SubmissionService.GetStatus(ctx.Request.Context(), ctx.Param("id"), claims.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, status)
}

// GetDetail godoc
// @Summary 查询会话详情
// @Description 完整评分结果、各维度评语与录音回放链接
// @Tags 练习
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "会话ID"
// @Success 200 {object} util.Response{data=service.SessionDetail} "成功"
// @Failure 404 {object} util.Response "会话不存在"
// @Router /api/practice/sessions/{id} [get]
func (c *PracticeController) GetDetail(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	detail, err := c.SubmissionService.GetDetail(ctx.Request.Context(), ctx.Param("id"), claims.UserID)
	if err != nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, detail)
}

// List godoc
// @Summary 练习历史
// @Description 按时间倒序分页列出当前用户的练习会话
// @Tags 练习
// @Produce  json
// @Security ApiKeyAuth
// @Param   page  query int false "页码"
// @Param   limit query int false "每页条数"
// @Success 200 {object} util.Response{data=util.PageResponse} "成功"
// @Router /api/practice/sessions [get]
func (c *PracticeController) List(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	sessions, total, err := c.SubmissionService.ListSessions(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, util.PageResponse{List: sessions, Total: total, Page: page, Limit: limit})
}

// EraseData godoc
// @Summary 抹除练习数据
// @Description 删除当前用户的全部练习会话、评分记录与录音
// @Tags 练习
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response "成功"
// @Router /api/practice/data [delete]
func (c *PracticeController) EraseData(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.SubmissionService.EraseUser(ctx.Request.Context(), claims.UserID); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
