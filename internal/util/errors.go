package util

import "errors"

var (
	ErrUserNotFound          = errors.New("用户不存在")
	ErrEmailRegistered       = errors.New("该邮箱已被注册")
	ErrInvalidCredentials    = errors.New("邮箱或密码错误")
	ErrPermissionDenied      = errors.New("无权限执行该操作")
	ErrQuestionNotFound      = errors.New("题目不存在或已停用")
	ErrSessionNotFound       = errors.New("练习会话不存在")
	ErrSessionTerminal       = errors.New("会话已结束，不可再变更")
	ErrEmptySubmission       = errors.New("提交中不包含任何作答")
	ErrBadSessionComposition = errors.New("题目组合与会话类型不匹配")
)
