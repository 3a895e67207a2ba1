package store

import "github.com/chatgw/gateway/internal/domain/model"

// BuiltinCatalog returns the static description of every vendor the gateway
// knows how to adapt. It is reconciled into the providers table on startup:
// new entries are inserted enabled, existing rows keep their operator-set
// Enabled flag.
func BuiltinCatalog() []model.Provider {
	return []model.Provider{
		{
			ID:                 model.ProviderDeepSeek,
			Name:               "DeepSeek",
			BaseURL:            "https://chat.deepseek.com",
			TokenCheckEndpoint: "https://chat.deepseek.com/api/v0/users/current",
			Models: ModelInfo(model.ProviderDeepSeek, []model.ModelInfo{
				{PublicID: "deepseek-chat", UpstreamModel: "deepseek_v3", OwnedBy: "deepseek", SupportsTools: true},
				{PublicID: "deepseek-reasoner", UpstreamModel: "deepseek_r1", OwnedBy: "deepseek", SupportsTools: true},
			}),
		},
		{
			ID:                 model.ProviderGLM,
			Name:               "Zhipu GLM",
			BaseURL:            "https://chatglm.cn",
			TokenCheckEndpoint: "https://chatglm.cn/chatglm/user-api/user/refresh",
			Models: ModelInfo(model.ProviderGLM, []model.ModelInfo{
				{PublicID: "glm-4", UpstreamModel: "glm-4", OwnedBy: "zhipu", SupportsTools: true},
				{PublicID: "glm-4-plus", UpstreamModel: "glm-4-plus", OwnedBy: "zhipu", SupportsTools: true},
			}),
		},
		{
			ID:                 model.ProviderKimi,
			Name:               "Kimi",
			BaseURL:            "https://www.kimi.com",
			TokenCheckEndpoint: "https://www.kimi.com/api/subscription/status",
			Models: ModelInfo(model.ProviderKimi, []model.ModelInfo{
				{PublicID: "kimi", UpstreamModel: "kimi", OwnedBy: "moonshot", SupportsTools: true},
			}),
		},
		{
			ID:                 model.ProviderMiniMax,
			Name:               "MiniMax",
			BaseURL:            "https://hailuoai.com",
			TokenCheckEndpoint: "https://hailuoai.com/v1/api/user/device/register",
			Models: ModelInfo(model.ProviderMiniMax, []model.ModelInfo{
				{PublicID: "minimax-abab", UpstreamModel: "abab6.5", OwnedBy: "minimax", SupportsTools: true},
			}),
		},
		{
			ID:      model.ProviderQwen,
			Name:    "Qwen (domestic)",
			BaseURL: "https://www.tongyi.com",
			// The vendor's own documented base endpoint and its token-check
			// path disagree in the wild (chat2-api.qianwen.com vs
			// chat2.qianwen.com); kept as explicit configuration rather than
			// derived, pending verification against the live vendor.
			TokenCheckEndpoint: "https://www.tongyi.com/api/session/page/list",
			Models: ModelInfo(model.ProviderQwen, []model.ModelInfo{
				{PublicID: "qwen-max", UpstreamModel: "qwen-max", OwnedBy: "alibaba", SupportsTools: true},
			}),
		},
		{
			ID:                 model.ProviderQwenAI,
			Name:               "Qwen (chat.qwen.ai)",
			BaseURL:            "https://chat.qwen.ai",
			TokenCheckEndpoint: "https://chat.qwen.ai/api/v2/user",
			Models: ModelInfo(model.ProviderQwenAI, []model.ModelInfo{
				{PublicID: "qwen3-max", UpstreamModel: "qwen3-max", OwnedBy: "alibaba", SupportsTools: true},
			}),
		},
		{
			ID:                 model.ProviderZai,
			Name:               "Z.ai",
			BaseURL:            "https://chat.z.ai",
			TokenCheckEndpoint: "https://chat.z.ai/api/v1/auths/",
			Models: ModelInfo(model.ProviderZai, []model.ModelInfo{
				{PublicID: "glm-4.6", UpstreamModel: "glm-4.6", OwnedBy: "z.ai", SupportsTools: true},
			}),
		},
	}
}

// ModelInfo fills in the ProviderID field on each entry; kept as a free
// function rather than a method so BuiltinCatalog reads as a flat table.
func ModelInfo(p model.ProviderID, models []model.ModelInfo) []model.ModelInfo {
	out := make([]model.ModelInfo, len(models))
	for i, m := range models {
		m.ProviderID = p
		out[i] = m
	}
	return out
}
