package app

// Compiled-in modules.
import (
	_ "github.com/flemzord/tierllm/internal/gateway"
	_ "github.com/flemzord/tierllm/internal/manager"
	_ "github.com/flemzord/tierllm/modules/chatlog/sqlite"
	_ "github.com/flemzord/tierllm/modules/engine/llamacpp"
	_ "github.com/flemzord/tierllm/modules/engine/yzma"
)
