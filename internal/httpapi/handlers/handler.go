package handlers

import (
	"github.com/suPer8Hu/studytree-ai/internal/config"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"go.uber.org/zap"
)

type Handler struct {
	Cfg config.Config
	Gen *generation.Service
	Log *zap.Logger
}

func NewHandler(cfg config.Config, gen *generation.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Cfg: cfg, Gen: gen, Log: log}
}
