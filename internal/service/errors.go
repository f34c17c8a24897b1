package service

import "errors"

var (
	ErrJudgeOutput      = errors.New("judge returned an invalid verdict")
	ErrCandidateFailed  = errors.New("comparison candidate failed")
	ErrComparisonModels = errors.New("comparison needs exactly three models")
)
