// Package agent 实现编排图中的三类节点：负责路由的 Supervisor、包装任务型智能体的
// WorkerNode，以及撰写外联邮件的 EmailDrafter。
//
// 每个节点接收完整的共享状态并返回替换后的状态。后端调用失败与输出解析失败都在节点
// 内部按固定的回退值处理，不会向编排图抛出错误。
package agent
