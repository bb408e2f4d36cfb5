package api

import (
	"context"

	"google.golang.org/grpc"
)

// RegisterWorkflowServiceServer registers srv on s using the same
// ServiceDesc/Handler layout go.temporal.io/api/workflowservice/v1's
// protoc-generated RegisterWorkflowServiceServer produces, so a caller
// speaking the real Temporal wire contract's method names reaches the
// in-process history/matching/visibility engines this facade wraps.
func RegisterWorkflowServiceServer(s *grpc.Server, srv WorkflowService) {
	s.RegisterService(&workflowServiceDesc, srv)
}

var workflowServiceDesc = grpc.ServiceDesc{
	ServiceName: "orchestrator.api.v1.WorkflowService",
	HandlerType: (*WorkflowService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartWorkflowExecution", Handler: _WorkflowService_StartWorkflowExecution_Handler},
		{MethodName: "GetWorkflowExecutionHistory", Handler: _WorkflowService_GetWorkflowExecutionHistory_Handler},
		{MethodName: "DescribeWorkflowExecution", Handler: _WorkflowService_DescribeWorkflowExecution_Handler},
		{MethodName: "SignalWorkflowExecution", Handler: _WorkflowService_SignalWorkflowExecution_Handler},
		{MethodName: "QueryWorkflowExecution", Handler: _WorkflowService_QueryWorkflowExecution_Handler},
		{MethodName: "TerminateWorkflowExecution", Handler: _WorkflowService_TerminateWorkflowExecution_Handler},
		{MethodName: "ListWorkflowExecutions", Handler: _WorkflowService_ListWorkflowExecutions_Handler},
		{MethodName: "PollWorkflowTaskQueue", Handler: _WorkflowService_PollWorkflowTaskQueue_Handler},
		{MethodName: "PollActivityTaskQueue", Handler: _WorkflowService_PollActivityTaskQueue_Handler},
		{MethodName: "PauseActivity", Handler: _WorkflowService_PauseActivity_Handler},
		{MethodName: "UnpauseActivity", Handler: _WorkflowService_UnpauseActivity_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "workflowservice.proto",
}

func _WorkflowService_StartWorkflowExecution_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartWorkflowExecutionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).StartWorkflowExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/StartWorkflowExecution"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).StartWorkflowExecution(ctx, req.(*StartWorkflowExecutionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_GetWorkflowExecutionHistory_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetWorkflowExecutionHistoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).GetWorkflowExecutionHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/GetWorkflowExecutionHistory"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).GetWorkflowExecutionHistory(ctx, req.(*GetWorkflowExecutionHistoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_DescribeWorkflowExecution_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DescribeWorkflowExecutionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).DescribeWorkflowExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/DescribeWorkflowExecution"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).DescribeWorkflowExecution(ctx, req.(*DescribeWorkflowExecutionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_SignalWorkflowExecution_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SignalWorkflowExecutionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).SignalWorkflowExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/SignalWorkflowExecution"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).SignalWorkflowExecution(ctx, req.(*SignalWorkflowExecutionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_QueryWorkflowExecution_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QueryWorkflowExecutionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).QueryWorkflowExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/QueryWorkflowExecution"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).QueryWorkflowExecution(ctx, req.(*QueryWorkflowExecutionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_TerminateWorkflowExecution_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TerminateWorkflowExecutionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).TerminateWorkflowExecution(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/TerminateWorkflowExecution"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).TerminateWorkflowExecution(ctx, req.(*TerminateWorkflowExecutionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_ListWorkflowExecutions_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListWorkflowExecutionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).ListWorkflowExecutions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/ListWorkflowExecutions"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).ListWorkflowExecutions(ctx, req.(*ListWorkflowExecutionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_PollWorkflowTaskQueue_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PollTaskQueueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).PollWorkflowTaskQueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/PollWorkflowTaskQueue"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).PollWorkflowTaskQueue(ctx, req.(*PollTaskQueueRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_PollActivityTaskQueue_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PollTaskQueueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).PollActivityTaskQueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/PollActivityTaskQueue"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).PollActivityTaskQueue(ctx, req.(*PollTaskQueueRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_PauseActivity_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PauseActivityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).PauseActivity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/PauseActivity"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).PauseActivity(ctx, req.(*PauseActivityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WorkflowService_UnpauseActivity_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnpauseActivityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowService).UnpauseActivity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orchestrator.api.v1.WorkflowService/UnpauseActivity"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkflowService).UnpauseActivity(ctx, req.(*UnpauseActivityRequest))
	}
	return interceptor(ctx, in, info, handler)
}
