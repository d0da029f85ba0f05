// Package service содержит tier-3 capabilities — конкретные единицы
// работы departments.
//
// Включает:
//   - capability.go — интерфейс Capability, Invocation/Result
//   - registry.go   — реестр capabilities и маппинг department → capability
//   - fetch.go      — fetch_records (data_retrieval)
//   - metrics.go    — aggregate_metrics (quantitative_analysis)
//   - themes.go     — extract_themes (qualitative_analysis)
//   - compare.go    — compare_periods (comparative_analysis)
//   - forecast.go   — project_trend (predictive_analysis)
//   - recommend.go  — compose_recommendations (recommendation_generation)
//   - action.go     — run_action (исполнение одобренных proposals)
//
// Capability — чистая работа над input'ом: без очередей, retry
// и персистенции. Ошибки помечаются классами из пакета faults,
// чтобы supervisor мог отличить временный сбой от постоянного.
package service
