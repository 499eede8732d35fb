// Package ptpip implements camera.Transport over PTP/IP with the Sony SDIO
// extensions.
//
// A PTP/IP link is two TCP connections to the same port: the command channel
// carries operation requests, data phases and responses; the event channel
// carries asynchronous device events. The client performs the PTP/IP init
// exchange on both, opens a session and then runs the SDIO handshake that
// puts the camera under remote control.
//
//	Client
//	  |-- command channel: OperationRequest -> [StartData, Data*, EndData] -> OperationResponse
//	  |-- event channel:   Event packets -> receiveLoop -> bounded queue -> Recv
//
// When either channel fails the client marks itself disconnected. The next
// operation re-establishes the link, backing off between attempts.
package ptpip
