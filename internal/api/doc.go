// Package api 通过 REST 接口暴露运行任务：提交运行、查询状态与线索，以及下载线索表格。
package api
